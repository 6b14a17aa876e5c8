// Package section extracts the line number section, and the code it
// describes, from ELF, Mach-O and PE executables.
package section

import (
	"bytes"
	"compress/zlib"
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrUnknownFormat is returned for files that are neither ELF, Mach-O
	// nor PE executables.
	ErrUnknownFormat = errors.New("unknown executable format")
	// ErrNoDebugLine is returned for executables without a line number
	// section, usually because they were stripped.
	ErrNoDebugLine = errors.New("could not find .debug_line section")
)

// Format is the container format of an executable.
type Format string

const (
	FormatELF   Format = "elf"
	FormatMachO Format = "macho"
	FormatPE    Format = "pe"
)

// File is the subset of an executable needed to decode and use its line
// number section.
type File struct {
	Path      string
	Format    Format
	ByteOrder binary.ByteOrder
	PtrSize   int
	// Arch uses GOARCH names: amd64, 386 or arm64. It is empty for other
	// machines.
	Arch string

	// DebugLine is the uncompressed contents of the line number section.
	DebugLine []byte

	// Text is the contents of the main code section, loaded at TextAddr.
	Text     []byte
	TextAddr uint64
}

// Open reads the executable at path.
func Open(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	f, err := NewFile(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// NewFile reads an executable from r.
func NewFile(r io.ReaderAt) (*File, error) {
	var magic [4]byte
	if _, err := r.ReadAt(magic[:], 0); err != nil {
		return nil, ErrUnknownFormat
	}
	switch {
	case bytes.Equal(magic[:], []byte(elf.ELFMAG)):
		return openElf(r)
	case magic[0] == 'M' && magic[1] == 'Z':
		return openPE(r)
	}
	switch binary.LittleEndian.Uint32(magic[:]) {
	case macho.Magic32, macho.Magic64, macho.MagicFat:
		return openMacho(r)
	}
	switch binary.BigEndian.Uint32(magic[:]) {
	case macho.Magic32, macho.Magic64, macho.MagicFat:
		return openMacho(r)
	}
	return nil, ErrUnknownFormat
}

func openElf(r io.ReaderAt) (*File, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	defer ef.Close()

	f := &File{Format: FormatELF, ByteOrder: ef.ByteOrder, PtrSize: 4}
	if ef.Class == elf.ELFCLASS64 {
		f.PtrSize = 8
	}
	switch ef.Machine {
	case elf.EM_X86_64:
		f.Arch = "amd64"
	case elf.EM_386:
		f.Arch = "386"
	case elf.EM_AARCH64:
		f.Arch = "arm64"
	}

	if f.DebugLine, err = getDebugLineElf(ef); err != nil {
		return nil, err
	}
	if text := ef.Section(".text"); text != nil {
		if f.Text, err = text.Data(); err != nil {
			return nil, err
		}
		f.TextAddr = text.Addr
	}
	return f, nil
}

// getDebugLineElf returns the contents of .debug_line, if .debug_line
// doesn't exist it will try to return the decompressed contents of
// .zdebug_line.
func getDebugLineElf(f *elf.File) ([]byte, error) {
	if sec := f.Section(".debug_line"); sec != nil {
		return sec.Data()
	}
	sec := f.Section(".zdebug_line")
	if sec == nil {
		return nil, ErrNoDebugLine
	}
	b, err := sec.Data()
	if err != nil {
		return nil, err
	}
	return decompressMaybe(b)
}

func openMacho(r io.ReaderAt) (*File, error) {
	mf, err := macho.NewFile(r)
	if err != nil {
		var fatErr error
		mf, fatErr = openFatMacho(r)
		if fatErr != nil {
			return nil, err
		}
	}
	defer mf.Close()

	f := &File{Format: FormatMachO, ByteOrder: mf.ByteOrder, PtrSize: 4}
	if mf.Magic == macho.Magic64 {
		f.PtrSize = 8
	}
	switch mf.Cpu {
	case macho.CpuAmd64:
		f.Arch = "amd64"
	case macho.Cpu386:
		f.Arch = "386"
	case macho.CpuArm64:
		f.Arch = "arm64"
	}

	if f.DebugLine, err = getDebugLineMacho(mf); err != nil {
		return nil, err
	}
	if text := mf.Section("__text"); text != nil {
		if f.Text, err = text.Data(); err != nil {
			return nil, err
		}
		f.TextAddr = text.Addr
	}
	return f, nil
}

// openFatMacho returns the first architecture of a universal binary.
func openFatMacho(r io.ReaderAt) (*macho.File, error) {
	ff, err := macho.NewFatFile(r)
	if err != nil {
		return nil, err
	}
	if len(ff.Arches) == 0 {
		return nil, ErrUnknownFormat
	}
	return ff.Arches[0].File, nil
}

func getDebugLineMacho(f *macho.File) ([]byte, error) {
	if sec := f.Section("__debug_line"); sec != nil {
		return sec.Data()
	}
	sec := f.Section("__zdebug_line")
	if sec == nil {
		return nil, ErrNoDebugLine
	}
	b, err := sec.Data()
	if err != nil {
		return nil, err
	}
	return decompressMaybe(b)
}

func openPE(r io.ReaderAt) (*File, error) {
	pf, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}
	defer pf.Close()

	f := &File{Format: FormatPE, ByteOrder: binary.LittleEndian, PtrSize: 4}
	var imageBase uint64
	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		f.PtrSize = 8
		imageBase = oh.ImageBase
	case *pe.OptionalHeader32:
		imageBase = uint64(oh.ImageBase)
	}
	switch pf.Machine {
	case pe.IMAGE_FILE_MACHINE_AMD64:
		f.Arch = "amd64"
	case pe.IMAGE_FILE_MACHINE_I386:
		f.Arch = "386"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		f.Arch = "arm64"
	}

	if f.DebugLine, err = getDebugLinePE(pf); err != nil {
		return nil, err
	}
	if text := pf.Section(".text"); text != nil {
		if f.Text, err = peSectionData(text); err != nil {
			return nil, err
		}
		f.TextAddr = imageBase + uint64(text.VirtualAddress)
	}
	return f, nil
}

func getDebugLinePE(f *pe.File) ([]byte, error) {
	if sec := f.Section(".debug_line"); sec != nil {
		return peSectionData(sec)
	}
	sec := f.Section(".zdebug_line")
	if sec == nil {
		return nil, ErrNoDebugLine
	}
	b, err := peSectionData(sec)
	if err != nil {
		return nil, err
	}
	return decompressMaybe(b)
}

// peSectionData returns the contents of sec without the padding added
// to align it to the file alignment.
func peSectionData(sec *pe.Section) ([]byte, error) {
	b, err := sec.Data()
	if err != nil {
		return nil, err
	}
	if 0 < sec.VirtualSize && sec.VirtualSize < sec.Size {
		b = b[:sec.VirtualSize]
	}
	return b, nil
}

// decompressMaybe decompresses sections in the .zdebug format: the
// string "ZLIB", the uncompressed size as a big endian uint64 and the
// zlib stream.
func decompressMaybe(b []byte) ([]byte, error) {
	if len(b) < 12 || string(b[:4]) != "ZLIB" {
		// not compressed
		return b, nil
	}

	dlen := binary.BigEndian.Uint64(b[4:12])
	r, err := zlib.NewReader(bytes.NewReader(b[12:]))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var dbuf bytes.Buffer
	if _, err := io.CopyN(&dbuf, r, int64(dlen)); err != nil {
		return nil, fmt.Errorf("decompressing .zdebug_line: %w", err)
	}
	return dbuf.Bytes(), nil
}
