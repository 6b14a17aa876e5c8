// elfwriter is a package to write ELF files without having their entire
// contents in memory at any one time.
// This package is incomplete, only features needed to write debug-only
// executables are implemented, notably missing:
// - program headers
// - symbol tables
// - 32bit files

package elfwriter

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"io"
)

const (
	ehsize    = 64
	shentsize = 64
)

// ErrUnsupported is returned for file headers this package can not write.
var ErrUnsupported = errors.New("unsupported ELF class")

// WriteSeeker is the union of io.Writer and io.Seeker.
type WriteSeeker interface {
	io.Writer
	io.Seeker
}

// Section describes a section written by WriteSection.
type Section struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Addr  uint64
	Align uint64

	// Offset and Size are set by WriteSection.
	Offset uint64
	Size   uint64
}

// Writer writes ELF files.
type Writer struct {
	w        WriteSeeker
	order    binary.ByteOrder
	Err      error
	Sections []*Section

	seekSectionHeader int64
	seekSectionNum    int64
}

// New creates a new Writer. Only 64bit files are supported, any other
// class sets Err.
func New(w WriteSeeker, fhdr *elf.FileHeader) *Writer {
	r := &Writer{w: w, order: binary.LittleEndian}

	if seek, _ := w.Seek(0, io.SeekCurrent); seek != 0 {
		r.Err = errors.New("can't write halfway through a file")
		return r
	}
	if fhdr.Class != elf.ELFCLASS64 {
		r.Err = ErrUnsupported
		return r
	}
	if fhdr.Data == elf.ELFDATA2MSB {
		r.order = binary.BigEndian
	}

	// e_ident
	r.Write([]byte{0x7f, 'E', 'L', 'F', byte(fhdr.Class), byte(fhdr.Data), byte(elf.EV_CURRENT), byte(fhdr.OSABI), byte(fhdr.ABIVersion), 0, 0, 0, 0, 0, 0, 0})

	r.u16(uint16(fhdr.Type))    // e_type
	r.u16(uint16(fhdr.Machine)) // e_machine
	r.u32(uint32(elf.EV_CURRENT))
	r.u64(fhdr.Entry) // e_entry
	r.u64(0)          // e_phoff
	r.seekSectionHeader = r.Here()
	r.u64(0)         // e_shoff
	r.u32(0)         // e_flags
	r.u16(ehsize)    // e_ehsize
	r.u16(0)         // e_phentsize
	r.u16(0)         // e_phnum
	r.u16(shentsize) // e_shentsize
	r.seekSectionNum = r.Here()
	r.u16(0)                     // e_shnum
	r.u16(uint16(elf.SHN_UNDEF)) // e_shstrndx

	if sz := r.Here(); sz != ehsize && r.Err == nil {
		r.Err = errors.New("internal error, ELF header size")
	}

	return r
}

// WriteSection copies the contents of data to the current location,
// aligned to s.Align, and records s in w.Sections.
func (w *Writer) WriteSection(s *Section, data io.Reader) {
	if w.Err != nil {
		return
	}
	if s.Align > 1 {
		w.Align(int64(s.Align))
	}
	s.Offset = uint64(w.Here())
	n, err := io.Copy(w.w, data)
	if err != nil && w.Err == nil {
		w.Err = err
	}
	s.Size = uint64(n)
	w.Sections = append(w.Sections, s)
}

// WriteSectionHeaders writes the section name table followed by the
// section headers at the current location and patches the file header
// accordingly. It must be called after the last section is written.
func (w *Writer) WriteSectionHeaders() {
	if w.Err != nil {
		return
	}

	// .shstrtab
	shstrtab := &Section{Name: ".shstrtab", Type: elf.SHT_STRTAB, Align: 1}
	names := []byte{0}
	nameOff := make([]uint32, 0, len(w.Sections)+1)
	for _, s := range append(w.Sections, shstrtab) {
		nameOff = append(nameOff, uint32(len(names)))
		names = append(names, s.Name...)
		names = append(names, 0)
	}
	shstrtab.Offset = uint64(w.Here())
	shstrtab.Size = uint64(len(names))
	w.Write(names)

	w.Align(8)
	shoff := w.Here()

	// The first entry of the table is always the null section.
	w.sectionHeader(&Section{}, 0)
	for i, s := range w.Sections {
		w.sectionHeader(s, nameOff[i])
	}
	w.sectionHeader(shstrtab, nameOff[len(nameOff)-1])

	// Patch File Header
	shnum := len(w.Sections) + 2
	w.seek(w.seekSectionHeader)
	w.u64(uint64(shoff))
	w.seek(w.seekSectionNum)
	w.u16(uint16(shnum))
	w.u16(uint16(shnum - 1))
	w.seek(-1)
}

func (w *Writer) sectionHeader(s *Section, name uint32) {
	w.u32(name)
	w.u32(uint32(s.Type))
	w.u64(uint64(s.Flags))
	w.u64(s.Addr)
	w.u64(s.Offset)
	w.u64(s.Size)
	w.u32(0) // sh_link
	w.u32(0) // sh_info
	w.u64(s.Align)
	w.u64(0) // sh_entsize
}

// seek moves to off, or to the end of the file if off is negative.
func (w *Writer) seek(off int64) {
	var err error
	if off < 0 {
		_, err = w.w.Seek(0, io.SeekEnd)
	} else {
		_, err = w.w.Seek(off, io.SeekStart)
	}
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

// Here returns the current seek offset from the start of the file.
func (w *Writer) Here() int64 {
	r, err := w.w.Seek(0, io.SeekCurrent)
	if err != nil && w.Err == nil {
		w.Err = err
	}
	return r
}

// Align writes as many padding bytes as needed to make the current file
// offset a multiple of align.
func (w *Writer) Align(align int64) {
	off := w.Here()
	alignOff := (off + (align - 1)) &^ (align - 1)
	if alignOff-off > 0 {
		w.Write(make([]byte, alignOff-off))
	}
}

func (w *Writer) Write(buf []byte) {
	_, err := w.w.Write(buf)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u16(n uint16) {
	err := binary.Write(w.w, w.order, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u32(n uint32) {
	err := binary.Write(w.w, w.order, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u64(n uint64) {
	err := binary.Write(w.w, w.order, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}
