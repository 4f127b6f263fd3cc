package isa

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// SupportedVersion is the newest ISA version this assembler accepts.
// Kernels may declare any version with the same major number that does not
// exceed it.
const SupportedVersion = "v1.2.0"

// CheckVersion validates a .version operand and returns it in canonical form.
//
// A leading "v" is optional ("1.1" and "v1.1" are equivalent).
//
// Example:
//
//	v, err := isa.CheckVersion("1.1")   // "v1.1.0", nil
//	_, err = isa.CheckVersion("v2.0.0") // unsupported major version
func CheckVersion(v string) (string, error) {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("invalid ISA version %q", v)
	}
	if semver.Major(v) != semver.Major(SupportedVersion) {
		return "", fmt.Errorf("unsupported ISA major version %s (assembler supports %s)",
			semver.Major(v), semver.Major(SupportedVersion))
	}
	if semver.Compare(v, SupportedVersion) > 0 {
		return "", fmt.Errorf("kernel requires ISA %s, assembler supports up to %s",
			semver.Canonical(v), SupportedVersion)
	}
	return semver.Canonical(v), nil
}

// AssembleFile reads and assembles a kernel source file.
//
// The kernel name defaults to the file name without extension when the
// source has no .kernel directive.
func AssembleFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read kernel: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return assemble(filepath.Base(path), name, string(data))
}

// Assemble assembles kernel source text.
//
// Syntax (one instruction per line, ';' or '//' start a comment):
//
//	.version v1.0.0
//	.kernel  diverge
//	entry:
//	        @tid<2 bra taken
//	        nop
//	        bra.uni join
//	taken:  add
//	join:   reconverge
//	        @!tid%2==0 exit
//	        bar
//	        exit
//
// Guards are written @[!]lhs<cmp>rhs where each side is tid, c, tid%N, c%N
// or an integer constant.
func Assemble(name, src string) (*Program, error) {
	return assemble("", name, src)
}

type fixup struct {
	pc    int
	label string
	line  int
}

func assemble(file, name, src string) (*Program, error) {
	prog := &Program{Name: name, Version: SupportedVersion, Labels: map[string]int{}}
	var fixups []fixup

	sc := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := stripComment(sc.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".") {
			if err := directive(prog, file, lineNo, line); err != nil {
				return nil, err
			}
			continue
		}

		// Labels, possibly several, possibly followed by an instruction.
		for {
			idx := strings.IndexByte(line, ':')
			if idx < 0 {
				break
			}
			label := strings.TrimSpace(line[:idx])
			if !isIdent(label) {
				break
			}
			if _, dup := prog.Labels[label]; dup {
				return nil, syntaxErrorf(file, lineNo, "duplicate label %q", label)
			}
			prog.Labels[label] = len(prog.Instructions)
			line = strings.TrimSpace(line[idx+1:])
		}
		if line == "" {
			continue
		}

		in, err := parseInstruction(file, lineNo, line)
		if err != nil {
			return nil, err
		}
		in.PC = len(prog.Instructions)
		in.Line = lineNo
		if in.Op == OpBra {
			fixups = append(fixups, fixup{pc: in.PC, label: in.Label, line: lineNo})
		}
		prog.Instructions = append(prog.Instructions, in)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read kernel source: %w", err)
	}

	for _, f := range fixups {
		pc, ok := prog.Labels[f.label]
		if !ok {
			if n, err := strconv.Atoi(f.label); err == nil {
				pc = n
			} else {
				return nil, syntaxErrorf(file, f.line, "undefined label %q", f.label).
					withSuggestion("Declare the label as 'name:' before an instruction")
			}
		}
		prog.Instructions[f.pc].Target = pc
	}

	if err := prog.Validate(); err != nil {
		return nil, err
	}
	return prog, nil
}

func directive(prog *Program, file string, line int, text string) error {
	fields := strings.Fields(text)
	switch fields[0] {
	case ".version":
		if len(fields) != 2 {
			return syntaxErrorf(file, line, ".version takes exactly one operand")
		}
		v, err := CheckVersion(fields[1])
		if err != nil {
			return syntaxErrorf(file, line, "%v", err)
		}
		prog.Version = v
	case ".kernel":
		if len(fields) != 2 || !isIdent(fields[1]) {
			return syntaxErrorf(file, line, ".kernel takes one identifier operand")
		}
		prog.Name = fields[1]
	default:
		return syntaxErrorf(file, line, "unknown directive %q", fields[0]).
			withSuggestion("Supported directives are .version and .kernel")
	}
	return nil
}

func parseInstruction(file string, line int, text string) (Instruction, error) {
	var in Instruction
	fields := strings.Fields(text)

	if strings.HasPrefix(fields[0], "@") {
		p, err := ParsePredicate(fields[0][1:])
		if err != nil {
			return in, syntaxErrorf(file, line, "bad guard %q: %v", fields[0], err)
		}
		in.Guard = &p
		fields = fields[1:]
		if len(fields) == 0 {
			return in, syntaxErrorf(file, line, "guard without instruction")
		}
	}

	op, args := fields[0], fields[1:]
	switch op {
	case "nop":
		in.Op = OpNop
	case "add":
		in.Op = OpAdd
		in.Amount = 1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return in, syntaxErrorf(file, line, "add operand %q is not an integer", args[0])
			}
			in.Amount = n
			args = nil
		}
	case "bra", "bra.uni":
		in.Op = OpBra
		in.Uniform = op == "bra.uni"
		if len(args) != 1 {
			return in, syntaxErrorf(file, line, "%s takes one target operand", op)
		}
		if in.Uniform && in.Guard != nil {
			return in, syntaxErrorf(file, line, "bra.uni cannot be guarded").
				withSuggestion("Use 'bra' for a guarded (possibly divergent) branch")
		}
		if in.Guard == nil {
			in.Uniform = true
		}
		in.Label = args[0]
		args = nil
	case "bar", "bar.sync":
		in.Op = OpBar
		if in.Guard != nil {
			return in, syntaxErrorf(file, line, "barriers cannot be guarded")
		}
	case "reconverge":
		in.Op = OpReconverge
		if in.Guard != nil {
			return in, syntaxErrorf(file, line, "reconverge cannot be guarded")
		}
	case "exit":
		in.Op = OpExit
	default:
		return in, syntaxErrorf(file, line, "unknown opcode %q", op).
			withSuggestion("Valid opcodes are nop, add, bra, bra.uni, bar, reconverge, exit")
	}
	if len(args) != 0 {
		return in, syntaxErrorf(file, line, "unexpected operands %v for %s", args, op)
	}
	return in, nil
}

var cmpTokens = []struct {
	tok string
	cmp Cmp
}{
	{"==", CmpEq}, {"!=", CmpNe}, {"<=", CmpLe}, {">=", CmpGe}, {"<", CmpLt}, {">", CmpGt},
}

// ParsePredicate parses a guard expression without its leading '@'.
func ParsePredicate(s string) (Predicate, error) {
	var p Predicate
	if strings.HasPrefix(s, "!") {
		p.Negate = true
		s = s[1:]
	}
	for _, c := range cmpTokens {
		idx := strings.Index(s, c.tok)
		if idx <= 0 {
			continue
		}
		lhs, err := parseTerm(s[:idx])
		if err != nil {
			return p, err
		}
		rhs, err := parseTerm(s[idx+len(c.tok):])
		if err != nil {
			return p, err
		}
		p.LHS, p.Cmp, p.RHS = lhs, c.cmp, rhs
		return p, nil
	}
	return p, fmt.Errorf("missing comparison operator in %q", s)
}

func parseTerm(s string) (Term, error) {
	var t Term
	base, mod, hasMod := strings.Cut(s, "%")
	switch base {
	case "tid":
		t.Reg = RegTid
	case "c":
		t.Reg = RegCounter
	default:
		if hasMod {
			return t, fmt.Errorf("modulus applies to registers only, got %q", s)
		}
		n, err := strconv.Atoi(base)
		if err != nil {
			return t, fmt.Errorf("bad term %q", s)
		}
		t.Const = n
		return t, nil
	}
	if hasMod {
		n, err := strconv.Atoi(mod)
		if err != nil || n <= 0 {
			return t, fmt.Errorf("bad modulus in %q", s)
		}
		t.Mod = n
	}
	return t, nil
}

func stripComment(line string) string {
	if idx := strings.Index(line, ";"); idx >= 0 {
		line = line[:idx]
	}
	if idx := strings.Index(line, "//"); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '.' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
