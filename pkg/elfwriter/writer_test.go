package elfwriter

import (
	"bytes"
	"debug/elf"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteSections(t *testing.T) {
	for _, data := range []elf.Data{elf.ELFDATA2LSB, elf.ELFDATA2MSB} {
		path := filepath.Join(t.TempDir(), "out")
		fh, err := os.Create(path)
		if err != nil {
			t.Fatal(err)
		}

		text := []byte{0x55, 0x48, 0x89, 0xe5, 0xc3}
		debugLine := bytes.Repeat([]byte{0xab}, 37)

		w := New(fh, &elf.FileHeader{Class: elf.ELFCLASS64, Data: data, Type: elf.ET_EXEC, Machine: elf.EM_X86_64})
		w.WriteSection(&Section{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addr: 0x401000, Align: 16}, bytes.NewReader(text))
		w.WriteSection(&Section{Name: ".debug_line", Type: elf.SHT_PROGBITS, Align: 1}, bytes.NewReader(debugLine))
		w.WriteSectionHeaders()
		if w.Err != nil {
			t.Fatal(w.Err)
		}
		if err := fh.Close(); err != nil {
			t.Fatal(err)
		}
		if w.Sections[0].Offset%16 != 0 {
			t.Errorf("%v: .text not aligned: %#x", data, w.Sections[0].Offset)
		}

		ef, err := elf.Open(path)
		if err != nil {
			t.Fatalf("%v: %v", data, err)
		}
		if ef.Machine != elf.EM_X86_64 || ef.Data != data {
			t.Errorf("%v: wrong file header %v %v", data, ef.Machine, ef.Data)
		}
		if len(ef.Sections) != 4 {
			t.Fatalf("%v: expected 4 sections, got %d", data, len(ef.Sections))
		}
		sec := ef.Section(".text")
		if sec == nil || sec.Addr != 0x401000 {
			t.Fatalf("%v: wrong .text section %v", data, sec)
		}
		if got, _ := sec.Data(); !bytes.Equal(got, text) {
			t.Errorf("%v: wrong .text contents % x", data, got)
		}
		sec = ef.Section(".debug_line")
		if sec == nil {
			t.Fatalf("%v: .debug_line missing", data)
		}
		if got, _ := sec.Data(); !bytes.Equal(got, debugLine) {
			t.Errorf("%v: wrong .debug_line contents % x", data, got)
		}
		ef.Close()
	}
}

func TestUnsupportedClass(t *testing.T) {
	fh, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	w := New(fh, &elf.FileHeader{Class: elf.ELFCLASS32, Data: elf.ELFDATA2LSB})
	if !errors.Is(w.Err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", w.Err)
	}
	w.WriteSection(&Section{Name: ".text"}, bytes.NewReader([]byte{1}))
	w.WriteSectionHeaders()
	if len(w.Sections) != 0 {
		t.Fatal("sections written after an error")
	}
}
