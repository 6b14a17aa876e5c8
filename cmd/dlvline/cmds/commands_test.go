package cmds

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/dwarfline/pkg/dwarf/dwarfbuilder"
	"github.com/go-delve/dwarfline/pkg/dwarf/section"
)

var testText = []byte{
	0x55,             // push %rbp
	0x48, 0x89, 0xe5, // mov %rsp,%rbp
	0xe8, 0x00, 0x00, 0x00, 0x00, // call 0x401009
	0xc3, // ret
}

func testDebugLine() []byte {
	hdr := dwarfbuilder.DefaultHeader()
	hdr.IncludeDirs = []string{"/src"}
	hdr.Files = []dwarfbuilder.File{{Name: "main.c", Dir: 1}, {Name: "util.c", Dir: 1}}

	b := dwarfbuilder.New()
	b.BeginUnit(hdr)
	b.SetAddress(0x401000).Copy().
		AdvancePC(1).AdvanceLine(1).Copy().
		AdvancePC(3).AdvanceLine(1).Copy().
		AdvancePC(5).SetFile(2).AdvanceLine(7).Copy().
		AdvancePC(1).EndSequence()
	return b.Build()
}

// writeTestExecutable writes an ELF file containing testText and
// debugLine and returns its path.
func writeTestExecutable(t *testing.T, debugLine []byte) string {
	path := filepath.Join(t.TempDir(), "test.elf")
	err := writeDebugFile(path, &section.File{
		Arch:      "amd64",
		ByteOrder: binary.LittleEndian,
		Text:      testText,
		TextAddr:  0x401000,
		DebugLine: debugLine,
	})
	require.NoError(t, err)
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := New()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestWriteDebugFile(t *testing.T) {
	path := writeTestExecutable(t, testDebugLine())
	f, err := section.Open(path)
	require.NoError(t, err)
	require.Equal(t, section.FormatELF, f.Format)
	require.Equal(t, "amd64", f.Arch)
	require.Equal(t, 8, f.PtrSize)
	require.Equal(t, uint64(0x401000), f.TextAddr)
	require.Equal(t, testText, f.Text)
	require.Equal(t, testDebugLine(), f.DebugLine)
}

func TestAddr2Line(t *testing.T) {
	path := writeTestExecutable(t, testDebugLine())

	out, err := run(t, "addr2line", path, "0x401000", "0x401005", "4198409", "0x500000")
	require.NoError(t, err)
	require.Equal(t, "0x401000 /src/main.c:1\n0x401005 /src/main.c:3\n0x401009 /src/util.c:10\n0x500000 ??:0\n", out)

	out, err = run(t, "--static-base", "0x1000", "addr2line", path, "0x402001")
	require.NoError(t, err)
	require.Equal(t, "0x402001 /src/main.c:2\n", out)

	_, err = run(t, "addr2line", path, "main")
	require.EqualError(t, err, `invalid address "main"`)

	_, err = run(t, "addr2line", filepath.Join(t.TempDir(), "missing"), "0x401000")
	require.Error(t, err)

	_, err = run(t, "addr2line", path)
	require.Error(t, err)
}

func TestPartialTable(t *testing.T) {
	data := append(testDebugLine(), 0x20, 0, 0, 0, 4, 0)
	path := writeTestExecutable(t, data)

	out, err := run(t, "addr2line", path, "0x401001")
	require.NoError(t, err)
	require.Contains(t, out, "Warning: ")
	require.Contains(t, out, "0x401001 /src/main.c:2\n")

	path = writeTestExecutable(t, data[len(data)-6:])
	_, err = run(t, "addr2line", path, "0x401001")
	require.Error(t, err)
}

func TestFiles(t *testing.T) {
	path := writeTestExecutable(t, testDebugLine())

	out, err := run(t, "files", path)
	require.NoError(t, err)
	require.Equal(t, "/src/main.c\n/src/util.c\n", out)

	out, err = run(t, "files", "--prefix", "/src/u", path)
	require.NoError(t, err)
	require.Equal(t, "/src/util.c\n", out)
}

func TestDump(t *testing.T) {
	path := writeTestExecutable(t, testDebugLine())

	out, err := run(t, "dump", path)
	require.NoError(t, err)
	require.Contains(t, out, "unit at 0x0: version 4")
	require.Contains(t, out, "\tfile 2: util.c (dir 1)\n")
	require.Contains(t, out, "\nsequence 0\n")
	require.Contains(t, out, "/src/util.c:10:0")
	require.Contains(t, out, "end_sequence")
}

func TestDisasm(t *testing.T) {
	path := writeTestExecutable(t, testDebugLine())

	out, err := run(t, "disasm", path)
	require.NoError(t, err)
	require.Contains(t, out, "TEXT /src/main.c\n")
	require.Contains(t, out, "TEXT /src/util.c\n")
	require.Contains(t, out, "main.c:1")
	require.Contains(t, out, "<util.c:10>")

	out, err = run(t, "disasm", "--start", "0x401009", path)
	require.NoError(t, err)
	require.NotContains(t, out, "main.c")
	require.Contains(t, out, "util.c:10")

	_, err = run(t, "disasm", "--end", "0x500000", path)
	require.Error(t, err)

	_, err = run(t, "disasm", "--flavour", "masm", path)
	require.Error(t, err)
}

func TestExtract(t *testing.T) {
	path := writeTestExecutable(t, testDebugLine())
	dst := filepath.Join(t.TempDir(), "copy.elf")

	out, err := run(t, "extract", "-o", dst, path)
	require.NoError(t, err)
	require.Equal(t, dst+": 10 bytes of text, "+strconv.Itoa(len(testDebugLine()))+" bytes of line number information\n", out)

	out, err = run(t, "addr2line", dst, "0x401009")
	require.NoError(t, err)
	require.Equal(t, "0x401009 /src/util.c:10\n", out)
}

func TestVersionAndHelp(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "dlvline\nVersion: ")

	out, err = run(t, "help", "log")
	require.NoError(t, err)
	require.Contains(t, out, "debuglineerr")
	require.Contains(t, out, "symbolizer")

	_, err = run(t, "--log-output", "symbolizer", "version")
	require.Error(t, err)
}

func TestAddrFlag(t *testing.T) {
	var a addrFlag
	require.NoError(t, a.Set("0x10"))
	require.Equal(t, "0x10", a.String())
	require.NoError(t, a.Set("020"))
	require.Equal(t, addrFlag(16), a)
	require.Error(t, a.Set("-1"))
	require.Equal(t, "address", a.Type())
}
