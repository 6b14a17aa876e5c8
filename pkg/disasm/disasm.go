// Package disasm disassembles machine code and annotates every
// instruction with its source location.
package disasm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"github.com/go-delve/dwarfline/pkg/symbolize"
)

// ErrUnsupportedArch is returned for architectures that can not be
// disassembled.
var ErrUnsupportedArch = errors.New("unsupported architecture")

var errTruncated = errors.New("truncated instruction")

// AssemblyFlavour is the syntax used to print instructions.
type AssemblyFlavour int

const (
	GNUFlavour AssemblyFlavour = iota
	IntelFlavour
	GoFlavour
)

// ParseFlavour converts the name of an assembly flavour.
func ParseFlavour(s string) (AssemblyFlavour, error) {
	switch s {
	case "gnu", "att":
		return GNUFlavour, nil
	case "intel":
		return IntelFlavour, nil
	case "go":
		return GoFlavour, nil
	}
	return GNUFlavour, fmt.Errorf("unknown assembly flavour %q", s)
}

// InstructionKind classifies instructions that transfer control.
type InstructionKind uint8

const (
	OtherInstruction InstructionKind = iota
	CallInstruction
	RetInstruction
	JmpInstruction
	HardBreakInstruction
)

// Resolver maps addresses to source locations, *symbolize.Symbolizer
// implements it.
type Resolver interface {
	Resolve(pc uint64) (symbolize.Location, bool)
}

// Instruction is a disassembled instruction.
type Instruction struct {
	Loc symbolize.Location
	// HasLoc is false if the line table has no row for the instruction.
	HasLoc bool
	Bytes  []byte
	Text   string
	Kind   InstructionKind
	// DestLoc is the destination of direct calls and jumps.
	DestLoc *symbolize.Location
}

type decoder func(mem []byte, pc uint64, flavour AssemblyFlavour) (inst Instruction, dest uint64, hasDest bool, err error)

// Disassemble decodes text, loaded at address base. Bytes that can not be
// decoded produce an instruction with text "?".
func Disassemble(text []byte, base uint64, arch string, flavour AssemblyFlavour, r Resolver) ([]Instruction, error) {
	var decode decoder
	switch arch {
	case "amd64":
		decode = x86Decoder(64)
	case "386":
		decode = x86Decoder(32)
	case "arm64":
		decode = arm64Decode
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedArch, arch)
	}

	var instrs []Instruction
	for off := 0; off < len(text); {
		pc := base + uint64(off)
		inst, dest, hasDest, _ := decode(text[off:], pc, flavour)
		inst.Loc, inst.HasLoc = r.Resolve(pc)
		inst.Loc.PC = pc
		if hasDest {
			loc, _ := r.Resolve(dest)
			loc.PC = dest
			inst.DestLoc = &loc
		}
		instrs = append(instrs, inst)
		off += len(inst.Bytes)
	}
	return instrs, nil
}

func x86Decoder(bit int) decoder {
	return func(mem []byte, pc uint64, flavour AssemblyFlavour) (Instruction, uint64, bool, error) {
		inst, err := x86asm.Decode(mem, bit)
		if err != nil {
			return Instruction{Bytes: mem[:1], Text: "?"}, 0, false, err
		}
		// prefixes at the end of the buffer decode without an opcode
		if inst.Op == 0 {
			return Instruction{Bytes: mem[:1], Text: "?"}, 0, false, errTruncated
		}
		patchPCRelX86(pc, &inst)

		r := Instruction{Bytes: mem[:inst.Len]}
		switch flavour {
		case GNUFlavour:
			r.Text = x86asm.GNUSyntax(inst, pc, nil)
		case GoFlavour:
			r.Text = x86asm.GoSyntax(inst, pc, nil)
		default:
			r.Text = x86asm.IntelSyntax(inst, pc, nil)
		}

		switch inst.Op {
		case x86asm.JMP, x86asm.LJMP:
			r.Kind = JmpInstruction
		case x86asm.CALL, x86asm.LCALL:
			r.Kind = CallInstruction
		case x86asm.RET, x86asm.LRET:
			r.Kind = RetInstruction
		case x86asm.INT:
			r.Kind = HardBreakInstruction
		}

		if r.Kind == JmpInstruction || r.Kind == CallInstruction {
			if imm, ok := inst.Args[0].(x86asm.Imm); ok {
				return r, uint64(imm), true, nil
			}
		}
		return r, 0, false, nil
	}
}

// converts PC relative arguments to absolute addresses
func patchPCRelX86(pc uint64, inst *x86asm.Inst) {
	for i := range inst.Args {
		rel, isrel := inst.Args[i].(x86asm.Rel)
		if isrel {
			inst.Args[i] = x86asm.Imm(int64(pc) + int64(rel) + int64(inst.Len))
		}
	}
}

func arm64Decode(mem []byte, pc uint64, flavour AssemblyFlavour) (Instruction, uint64, bool, error) {
	if len(mem) < 4 {
		return Instruction{Bytes: mem, Text: "?"}, 0, false, errTruncated
	}
	r := Instruction{Bytes: mem[:4]}
	inst, err := arm64asm.Decode(mem)
	if err != nil {
		r.Text = "?"
		return r, 0, false, err
	}
	// only GNU syntax is available without the surrounding code
	r.Text = arm64asm.GNUSyntax(inst)

	switch inst.Op {
	case arm64asm.BL, arm64asm.BLR:
		r.Kind = CallInstruction
	case arm64asm.RET, arm64asm.ERET:
		r.Kind = RetInstruction
	case arm64asm.B, arm64asm.BR:
		r.Kind = JmpInstruction
	case arm64asm.BRK:
		r.Kind = HardBreakInstruction
	}

	if r.Kind == JmpInstruction || r.Kind == CallInstruction {
		if rel, ok := inst.Args[0].(arm64asm.PCRel); ok {
			return r, uint64(int64(pc) + int64(rel)), true, nil
		}
	}
	return r, 0, false, nil
}

// Print writes instrs to out, one per line, preceded by their source
// location. A header is printed every time the source file changes.
func Print(instrs []Instruction, out io.Writer) {
	bw := bufio.NewWriter(out)
	defer bw.Flush()
	tw := tabwriter.NewWriter(bw, 1, 8, 1, '\t', 0)
	defer tw.Flush()

	lastFile := ""
	for _, inst := range instrs {
		if inst.HasLoc && inst.Loc.File != lastFile {
			tw.Flush()
			fmt.Fprintf(bw, "TEXT %s\n", inst.Loc.File)
			lastFile = inst.Loc.File
		}
		where := "?"
		if inst.HasLoc {
			where = fmt.Sprintf("%s:%d", filepath.Base(inst.Loc.File), inst.Loc.Line)
		}
		text := inst.Text
		if inst.DestLoc != nil && inst.DestLoc.File != "" {
			text += fmt.Sprintf(" <%s:%d>", filepath.Base(inst.DestLoc.File), inst.DestLoc.Line)
		}
		fmt.Fprintf(tw, "\t%s\t%#x\t%x\t%s\n", where, inst.Loc.PC, inst.Bytes, text)
	}
}
