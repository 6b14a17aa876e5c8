// Package terminal implements functions for responding to user
// input and dispatching to appropriate commands on the line table.
package terminal

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/go-delve/dwarfline/pkg/dwarf/line"
)

type cmdfunc func(t *Term, args []string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	// completeFiles is true if the argument of the command is a file name.
	completeFiles bool
	helpMsg       string
	cmdFn         cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the dlvline terminal.
type Commands struct {
	cmds []command
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// LineCommands returns a Commands struct with default commands defined.
func LineCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"pc", "addr"}, group: lookupCmds, cmdFn: pcCommand, helpMsg: `Prints the source location of one or more addresses.

	pc <address>...

Addresses are parsed as Go integer literals (0x401000, 4198400). If no row
describes an address exactly the closest preceding row of the same
sequence is used.`},
		{aliases: []string{"line", "l"}, group: lookupCmds, completeFiles: true, cmdFn: lineCommand, helpMsg: `Prints the addresses of the statements of a source line.

	line <file>:<line>

The file can be a full path or a suffix matching a single file.`},
		{aliases: []string{"files"}, group: tableCmds, completeFiles: true, cmdFn: filesCommand, helpMsg: `Prints the files referenced by the line table.

	files [prefix]`},
		{aliases: []string{"dirs"}, group: tableCmds, cmdFn: dirsCommand, helpMsg: "Prints the directories referenced by the line table."},
		{aliases: []string{"units"}, group: tableCmds, cmdFn: unitsCommand, helpMsg: "Prints the header of every line number program."},
		{aliases: []string{"sequences", "seqs"}, group: tableCmds, cmdFn: sequencesCommand, helpMsg: "Prints the address range of every sequence."},
		{aliases: []string{"seq"}, group: tableCmds, cmdFn: seqCommand, helpMsg: `Prints the rows of a sequence.

	seq <n>`},
		{aliases: []string{"stats"}, cmdFn: statsCommand, helpMsg: "Prints statistics about the address lookup cache."},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit dlvline."},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

func (c *Commands) find(cmdstr string) *command {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			return &c.cmds[i]
		}
	}
	return nil
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it will do nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}
	if cmd := c.find(cmdstr); cmd != nil {
		return cmd.cmdFn
	}
	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	args, err := splitArgs(cmdstr)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	t.log.WithField("cmd", args[0]).Debugf("executing %q", cmdstr)
	return c.Find(args[0])(t, args[1:])
}

// splitArgs splits a command line into words, honoring quotes.
func splitArgs(cmdstr string) ([]string, error) {
	if strings.TrimSpace(cmdstr) == "" {
		return nil, nil
	}
	v, err := argv.Argv(cmdstr,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", cmdstr)
	}
	return v[0], nil
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var noCmdError = errors.New("command not available")

func noCmdAvailable(t *Term, args []string) error {
	return noCmdError
}

func nullCommand(t *Term, args []string) error {
	return nil
}

func (c *Commands) help(t *Term, args []string) error {
	if len(args) > 0 {
		if cmd := c.find(args[0]); cmd != nil {
			fmt.Fprintln(t.stdout, cmd.helpMsg)
			return nil
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// ParseAddress parses an address written as a Go integer literal.
func ParseAddress(s string) (uint64, error) {
	pc, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return pc, nil
}

func pcCommand(t *Term, args []string) error {
	if len(args) == 0 {
		return errors.New("not enough arguments")
	}
	for _, arg := range args {
		pc, err := ParseAddress(arg)
		if err != nil {
			return err
		}
		loc, ok := t.sym.Resolve(pc)
		if !ok {
			t.Println(fmt.Sprintf("%#x", pc), " ?")
			continue
		}
		t.Println(fmt.Sprintf("%#x", pc), " "+loc.String())
	}
	return nil
}

func lineCommand(t *Term, args []string) error {
	if len(args) != 1 {
		return errors.New("wrong number of arguments: line <file>:<line>")
	}
	idx := strings.LastIndex(args[0], ":")
	if idx < 0 {
		return fmt.Errorf("malformed location %q", args[0])
	}
	lineno, err := strconv.Atoi(args[0][idx+1:])
	if err != nil {
		return fmt.Errorf("malformed line number %q", args[0][idx+1:])
	}
	file, err := t.sym.FindFile(args[0][:idx])
	if err != nil {
		return err
	}
	pcs := t.sym.Table().AllPCsForFileLine(file, lineno)
	if len(pcs) == 0 {
		return fmt.Errorf("no statements at %s:%d", file, lineno)
	}
	for _, pc := range pcs {
		t.Println(fmt.Sprintf("%#x", pc), fmt.Sprintf(" %s:%d", file, lineno))
	}
	return nil
}

func filesCommand(t *Term, args []string) error {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	for _, f := range t.sym.FilesWithPrefix(prefix) {
		fmt.Fprintln(t.stdout, f)
	}
	return nil
}

func dirsCommand(t *Term, args []string) error {
	for i, d := range t.sym.Table().Dirs {
		if d == "" {
			continue
		}
		t.Println(fmt.Sprintf("%d", i), " "+d)
	}
	return nil
}

func unitsCommand(t *Term, args []string) error {
	return PrintUnits(t.stdout, t.sym.Table())
}

func sequencesCommand(t *Term, args []string) error {
	tbl := t.sym.Table()
	for i, seq := range tbl.Sequences {
		unsorted := ""
		if !tbl.Sorted(i) {
			unsorted = " (unsorted)"
		}
		t.Println(fmt.Sprintf("%d", i), fmt.Sprintf(" %#x-%#x %d rows%s", seq[0].Address, seq[len(seq)-1].Address, len(seq), unsorted))
	}
	return nil
}

func seqCommand(t *Term, args []string) error {
	if len(args) != 1 {
		return errors.New("wrong number of arguments: seq <n>")
	}
	tbl := t.sym.Table()
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 || n >= len(tbl.Sequences) {
		return fmt.Errorf("invalid sequence %q, the table has %d sequences", args[0], len(tbl.Sequences))
	}
	return PrintSequence(t.stdout, tbl, n)
}

func statsCommand(t *Term, args []string) error {
	st := t.sym.Stats()
	fmt.Fprintf(t.stdout, "cache hits: %d\ncache misses: %d\n", st.Hits, st.Misses)
	return nil
}

// ExitRequestError is returned when the user
// exits dlvline.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args []string) error {
	return ExitRequestError{}
}

// PrintUnits writes the header of every unit of tbl to w.
func PrintUnits(w io.Writer, tbl *line.Table) error {
	for _, u := range tbl.Units {
		p := &u.Prologue
		fmt.Fprintf(w, "unit at %#x: version %d, length %#x, header length %#x\n", u.Offset, p.Version, u.TotalLength(), p.Length)
		fmt.Fprintf(w, "\tminimum_instruction_length %d, maximum_operations_per_instruction %d, default_is_stmt %v\n", p.MinInstrLength, p.MaxOpPerInstr, u.DefaultIsStmt())
		fmt.Fprintf(w, "\tline_base %d, line_range %d, opcode_base %d, standard_opcode_lengths %v\n", p.LineBase, p.LineRange, p.OpcodeBase, p.StdOpLengths[1:])
		for i, d := range u.IncludeDirs[1:] {
			fmt.Fprintf(w, "\tdir %d: %s\n", i+1, d)
		}
		for i, f := range u.FileNames[1:] {
			fmt.Fprintf(w, "\tfile %d: %s (dir %d)\n", i+1, f.Name, f.DirIdx)
		}
	}
	return nil
}

// PrintSequence writes the rows of the i-th sequence of tbl to w.
func PrintSequence(w io.Writer, tbl *line.Table, i int) error {
	tw := tabwriter.NewWriter(w, 1, 8, 1, ' ', 0)
	fmt.Fprintln(tw, "address\top\tfile:line:col\tflags")
	for _, row := range tbl.Sequences[i] {
		fmt.Fprintf(tw, "%#x\t%d\t%s:%d:%d\t%s\n", row.Address, row.OpIndex, tbl.Path(row), row.Line, row.Column, rowFlags(row))
	}
	return tw.Flush()
}

func rowFlags(row line.Row) string {
	var flags []string
	if row.IsStmt {
		flags = append(flags, "stmt")
	}
	if row.BasicBlock {
		flags = append(flags, "bb")
	}
	if row.PrologueEnd {
		flags = append(flags, "prologue_end")
	}
	if row.EpilogueBegin {
		flags = append(flags, "epilogue_begin")
	}
	if row.EndSequence {
		flags = append(flags, "end_sequence")
	}
	if row.ISA != 0 {
		flags = append(flags, fmt.Sprintf("isa=%d", row.ISA))
	}
	if row.Discriminator != 0 {
		flags = append(flags, fmt.Sprintf("discriminator=%d", row.Discriminator))
	}
	return strings.Join(flags, " ")
}
