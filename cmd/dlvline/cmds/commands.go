package cmds

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-delve/dwarfline/pkg/config"
	"github.com/go-delve/dwarfline/pkg/disasm"
	"github.com/go-delve/dwarfline/pkg/dwarf/line"
	"github.com/go-delve/dwarfline/pkg/dwarf/section"
	"github.com/go-delve/dwarfline/pkg/elfwriter"
	"github.com/go-delve/dwarfline/pkg/logflags"
	"github.com/go-delve/dwarfline/pkg/symbolize"
	"github.com/go-delve/dwarfline/pkg/terminal"
	"github.com/go-delve/dwarfline/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// staticBase is the address the executable is loaded at.
	staticBase addrFlag
	// normalizeBackslash converts backslashes in path names to slashes.
	normalizeBackslash bool

	filesPrefix string

	disasmFlavour string
	disasmStart   addrFlag
	disasmEnd     addrFlag

	extractOutput string

	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const dlvlineCommandLongDesc = `dlvline decodes the DWARF line number information of an executable.

It reads the .debug_line section of ELF, Mach-O and PE executables, runs
every line number program it contains and uses the resulting table to map
addresses to source lines and back.

Addresses can be written in decimal, hexadecimal (0x prefix) or octal (0
prefix). Use --static-base for position independent executables, for
example:

` + "`dlvline addr2line --static-base 0x555555554000 ./hello 0x555555555140`"

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()
	staticBase, disasmStart, disasmEnd = 0, 0, 0

	// Main dlvline root command.
	rootCommand = &cobra.Command{
		Use:   "dlvline",
		Short: "dlvline decodes and queries DWARF line number tables.",
		Long:  dlvlineCommandLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logflags.Setup(log, logOutput, logDest)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logflags.Close()
		},
		SilenceUsage: true,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'dlvline help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'dlvline help log').")
	rootCommand.PersistentFlags().Var(&staticBase, "static-base", "Address the executable is loaded at, added to every address of the line table.")
	rootCommand.PersistentFlags().BoolVarP(&normalizeBackslash, "normalize-backslash", "", false, "Convert backslashes in file names to slashes.")

	// 'dump' subcommand.
	dumpCommand := &cobra.Command{
		Use:   "dump <binary>",
		Short: "Prints the headers and the rows of every line number program.",
		Args:  cobra.ExactArgs(1),
		RunE:  dumpCmd,
	}
	rootCommand.AddCommand(dumpCommand)

	// 'addr2line' subcommand.
	addr2lineCommand := &cobra.Command{
		Use:   "addr2line <binary> <address>...",
		Short: "Prints the source line of each address.",
		Long: `Prints the source line of each address.

Addresses without line information are printed as ??:0.`,
		Args: cobra.MinimumNArgs(2),
		RunE: addr2lineCmd,
	}
	rootCommand.AddCommand(addr2lineCommand)

	// 'files' subcommand.
	filesCommand := &cobra.Command{
		Use:   "files <binary>",
		Short: "Lists the source files referenced by the line table.",
		Args:  cobra.ExactArgs(1),
		RunE:  filesCmd,
	}
	filesCommand.Flags().StringVarP(&filesPrefix, "prefix", "p", "", "Only list files starting with this prefix.")
	rootCommand.AddCommand(filesCommand)

	// 'disasm' subcommand.
	disasmCommand := &cobra.Command{
		Use:   "disasm <binary>",
		Short: "Disassembles the text section, annotated with source lines.",
		Long: `Disassembles the text section, annotated with source lines.

Supported architectures are amd64, 386 and arm64. By default the whole text
section is disassembled, use --start and --end to select a range.`,
		Args: cobra.ExactArgs(1),
		RunE: disasmCmd,
	}
	disasmCommand.Flags().StringVarP(&disasmFlavour, "flavour", "f", "gnu", "Assembly flavour: gnu, intel or go.")
	disasmCommand.Flags().Var(&disasmStart, "start", "First address to disassemble.")
	disasmCommand.Flags().Var(&disasmEnd, "end", "Address where disassembly stops.")
	rootCommand.AddCommand(disasmCommand)

	// 'extract' subcommand.
	extractCommand := &cobra.Command{
		Use:   "extract <binary>",
		Short: "Writes an ELF file containing only the text and line number sections.",
		Long: `Writes an ELF file containing only the text and line number sections.

The output can be given to every other dlvline command in place of the
original executable. Compressed line number sections are stored
uncompressed.`,
		Args: cobra.ExactArgs(1),
		RunE: extractCmd,
	}
	extractCommand.Flags().StringVarP(&extractOutput, "output", "o", "", "Output file, defaults to <binary>.debugline.")
	rootCommand.AddCommand(extractCommand)

	// 'repl' subcommand.
	replCommand := &cobra.Command{
		Use:   "repl <binary>",
		Short: "Explores the line table interactively.",
		Args:  cobra.ExactArgs(1),
		RunE:  replCmd,
	}
	rootCommand.AddCommand(replCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dlvline\n%s\n", version.DlvlineVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	debuglineerr	Log recoverable errors reading .debug_line
	symbolizer	Log address lookups
	terminal	Log commands executed by the repl

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// addrFlag is a pflag.Value for addresses.
type addrFlag uint64

var _ pflag.Value = (*addrFlag)(nil)

func (a *addrFlag) String() string {
	return fmt.Sprintf("%#x", uint64(*a))
}

func (a *addrFlag) Set(s string) error {
	v, err := terminal.ParseAddress(s)
	if err != nil {
		return err
	}
	*a = addrFlag(v)
	return nil
}

func (a *addrFlag) Type() string {
	return "address"
}

// loadTable reads the executable at path and decodes its line table.
// Decoding errors are reported as a warning as long as at least one
// sequence was decoded.
func loadTable(cmd *cobra.Command, path string) (*section.File, *line.Table, error) {
	f, err := section.Open(path)
	if err != nil {
		return nil, nil, err
	}
	tbl, err := line.Parse(f.DebugLine, &line.Options{
		ByteOrder:          f.ByteOrder,
		StaticBase:         uint64(staticBase),
		NormalizeBackslash: normalizeBackslash || conf.NormalizeBackslash,
	})
	if err != nil {
		if len(tbl.Sequences) == 0 {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s: %v, using the %d sequences decoded before the error.\n", path, err, len(tbl.Sequences))
	}
	return f, tbl, nil
}

func loadSymbolizer(cmd *cobra.Command, path string) (*section.File, *symbolize.Symbolizer, error) {
	f, tbl, err := loadTable(cmd, path)
	if err != nil {
		return nil, nil, err
	}
	sym, err := symbolize.New(tbl, conf)
	if err != nil {
		return nil, nil, err
	}
	return f, sym, nil
}

func dumpCmd(cmd *cobra.Command, args []string) error {
	_, tbl, err := loadTable(cmd, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if err := terminal.PrintUnits(out, tbl); err != nil {
		return err
	}
	for i := range tbl.Sequences {
		fmt.Fprintf(out, "\nsequence %d\n", i)
		if err := terminal.PrintSequence(out, tbl, i); err != nil {
			return err
		}
	}
	return nil
}

func addr2lineCmd(cmd *cobra.Command, args []string) error {
	pcs := make([]uint64, 0, len(args)-1)
	for _, arg := range args[1:] {
		pc, err := terminal.ParseAddress(arg)
		if err != nil {
			return err
		}
		pcs = append(pcs, pc)
	}
	_, sym, err := loadSymbolizer(cmd, args[0])
	if err != nil {
		return err
	}
	for _, pc := range pcs {
		loc, ok := sym.Resolve(pc)
		if !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%#x ??:0\n", pc)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%#x %s\n", pc, loc)
	}
	return nil
}

func filesCmd(cmd *cobra.Command, args []string) error {
	_, sym, err := loadSymbolizer(cmd, args[0])
	if err != nil {
		return err
	}
	for _, file := range sym.FilesWithPrefix(filesPrefix) {
		fmt.Fprintln(cmd.OutOrStdout(), file)
	}
	return nil
}

func disasmCmd(cmd *cobra.Command, args []string) error {
	flavour, err := disasm.ParseFlavour(disasmFlavour)
	if err != nil {
		return err
	}
	f, sym, err := loadSymbolizer(cmd, args[0])
	if err != nil {
		return err
	}
	if len(f.Text) == 0 {
		return errors.New("executable has no text section")
	}

	textStart := f.TextAddr + uint64(staticBase)
	textEnd := textStart + uint64(len(f.Text))
	start, end := uint64(disasmStart), uint64(disasmEnd)
	if start == 0 {
		start = textStart
	}
	if end == 0 {
		end = textEnd
	}
	if start < textStart || end > textEnd || start >= end {
		return fmt.Errorf("range %#x-%#x outside of the text section %#x-%#x", start, end, textStart, textEnd)
	}

	instrs, err := disasm.Disassemble(f.Text[start-textStart:end-textStart], start, f.Arch, flavour, sym)
	if err != nil {
		return err
	}
	disasm.Print(instrs, cmd.OutOrStdout())
	return nil
}

func extractCmd(cmd *cobra.Command, args []string) error {
	f, err := section.Open(args[0])
	if err != nil {
		return err
	}
	out := extractOutput
	if out == "" {
		out = args[0] + ".debugline"
	}
	if err := writeDebugFile(out, f); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes of text, %d bytes of line number information\n", out, len(f.Text), len(f.DebugLine))
	return nil
}

var archMachine = map[string]elf.Machine{
	"amd64": elf.EM_X86_64,
	"386":   elf.EM_386,
	"arm64": elf.EM_AARCH64,
}

// writeDebugFile writes an ELF file containing the text and line number
// sections of f.
func writeDebugFile(path string, f *section.File) (err error) {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fh.Close(); err == nil {
			err = cerr
		}
	}()

	fhdr := &elf.FileHeader{
		Class:   elf.ELFCLASS64,
		Data:    elf.ELFDATA2LSB,
		Type:    elf.ET_EXEC,
		Machine: archMachine[f.Arch],
	}
	if f.ByteOrder == binary.BigEndian {
		fhdr.Data = elf.ELFDATA2MSB
	}

	w := elfwriter.New(fh, fhdr)
	if len(f.Text) > 0 {
		w.WriteSection(&elfwriter.Section{
			Name:  ".text",
			Type:  elf.SHT_PROGBITS,
			Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
			Addr:  f.TextAddr,
			Align: 16,
		}, bytes.NewReader(f.Text))
	}
	w.WriteSection(&elfwriter.Section{Name: ".debug_line", Type: elf.SHT_PROGBITS, Align: 1}, bytes.NewReader(f.DebugLine))
	w.WriteSectionHeaders()
	return w.Err
}

func replCmd(cmd *cobra.Command, args []string) error {
	_, sym, err := loadSymbolizer(cmd, args[0])
	if err != nil {
		return err
	}
	term := terminal.New(sym, conf)
	status, err := term.Run()
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("exit status %d", status)
	}
	return nil
}
