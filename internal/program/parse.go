package program

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/kolkov/weakcheck/internal/event"
)

// document mirrors the YAML layout. Function bodies are kept as nodes so
// instruction errors can point at their source line.
type document struct {
	Format  string `yaml:"format"`
	Name    string `yaml:"name"`
	Globals []struct {
		Name string `yaml:"name"`
		Init *int64 `yaml:"init"`
	} `yaml:"globals"`
	Main      string               `yaml:"main"`
	Recovery  string               `yaml:"recovery"`
	Functions map[string]yaml.Node `yaml:"functions"`
}

// signature describes the operands of an opcode. Letters stand for a
// location (L), a value (V), a condition (C), a jump target (T), a function
// name (F) and a file name (N).
type signature struct {
	dst      bool
	operands string
	// ordering: 0 none, 'o' optional, 'r' required.
	ordering byte
	def      event.Ordering
	// optional is the number of trailing operands that may be omitted.
	optional int
}

var signatures = map[Op]signature{
	OpNop:         {},
	OpLoad:        {dst: true, operands: "L", ordering: 'o', def: event.NotAtomic},
	OpStore:       {operands: "LV", ordering: 'o', def: event.NotAtomic},
	OpFetchAdd:    {dst: true, operands: "LV", ordering: 'o', def: event.SeqCst},
	OpCompareSwap: {dst: true, operands: "LVV", ordering: 'o', def: event.SeqCst},
	OpAwait:       {dst: true, operands: "LCV", ordering: 'o', def: event.SeqCst},
	OpLock:        {operands: "L"},
	OpUnlock:      {operands: "L"},
	OpFence:       {ordering: 'r'},
	OpMalloc:      {dst: true, operands: "V"},
	OpFree:        {operands: "V"},
	OpSpawn:       {dst: true, operands: "FV", optional: 1},
	OpJoin:        {operands: "V"},
	OpMov:         {dst: true, operands: "V"},
	OpAdd:         {dst: true, operands: "VV"},
	OpSub:         {dst: true, operands: "VV"},
	OpJmp:         {operands: "T"},
	OpBr:          {operands: "VCVT"},
	OpAssume:      {operands: "VCV"},
	OpAssert:      {operands: "VCV"},
	OpRet:         {operands: "V", optional: 1},
	OpDiskOpen:    {dst: true, operands: "N"},
	OpDiskWrite:   {operands: "VVV"},
	OpDiskRead:    {dst: true, operands: "VV"},
	OpDiskSync:    {operands: "V"},
	OpDiskTrunc:   {operands: "VV"},
	OpPbarrier:    {},
}

// Load reads and parses the program at path.
func Load(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	return Parse(path, data)
}

// Parse parses a program document. file is used in error positions only.
func Parse(file string, data []byte) (*Program, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, newParseError(file, 0, "invalid YAML: %v", err)
	}
	if root.Kind == 0 {
		return nil, newParseError(file, 0, "empty program").
			withSuggestion("Start the file with \"format: %s\"", FormatMajor)
	}
	var doc document
	if err := root.Decode(&doc); err != nil {
		return nil, newParseError(file, 0, "invalid program layout: %v", err)
	}

	if err := checkFormat(file, doc.Format); err != nil {
		return nil, err
	}

	p := &Program{
		File:      file,
		Name:      doc.Name,
		Format:    doc.Format,
		Main:      doc.Main,
		Recovery:  doc.Recovery,
		Functions: make(map[string]*Function, len(doc.Functions)),
	}
	if p.Main == "" {
		p.Main = "main"
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}

	seen := make(map[string]bool, len(doc.Globals))
	for _, g := range doc.Globals {
		if !isIdent(g.Name) {
			return nil, newParseError(file, 0, "invalid global name %q", g.Name)
		}
		if seen[g.Name] {
			return nil, newParseError(file, 0, "duplicate global %q", g.Name)
		}
		seen[g.Name] = true
		p.Globals = append(p.Globals, GlobalVar{Name: g.Name, Init: g.Init})
	}

	names := make([]string, 0, len(doc.Functions))
	for name := range doc.Functions {
		names = append(names, name)
	}
	sort.Strings(names)

	pr := &parser{prog: p, file: file, files: make(map[string]bool)}
	for _, name := range names {
		node := doc.Functions[name]
		if node.Kind != yaml.ScalarNode {
			return nil, newParseError(file, node.Line, "function %q must be a block of text", name).
				withSuggestion("Write the body as a literal block: %s: |", name)
		}
		fn, err := pr.function(name, node)
		if err != nil {
			return nil, err
		}
		p.Functions[name] = fn
	}
	for f := range pr.files {
		p.Files = append(p.Files, f)
	}
	sort.Strings(p.Files)

	if err := pr.resolve(); err != nil {
		return nil, err
	}
	return p, nil
}

func checkFormat(file, format string) error {
	if format == "" {
		return newParseError(file, 0, "missing format version").
			withSuggestion("Add \"format: %s\" at the top of the file", FormatMajor)
	}
	v := format
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return newParseError(file, 0, "invalid format version %q", format)
	}
	if semver.Major(v) != FormatMajor {
		return newParseError(file, 0, "unsupported format version %s", format).
			withSuggestion("This release reads format %s programs", FormatMajor)
	}
	return nil
}

type parser struct {
	prog  *Program
	file  string
	files map[string]bool
	// targets holds unresolved jump labels per function and instruction.
	targets map[string]map[int]string
}

func (pr *parser) function(name string, node yaml.Node) (*Function, error) {
	base := node.Line
	if node.Style&(yaml.LiteralStyle|yaml.FoldedStyle) != 0 {
		base++
	}
	fn := &Function{Name: name, Labels: make(map[string]int)}
	for i, raw := range strings.Split(node.Value, "\n") {
		line := base + i
		text := raw
		if j := strings.IndexByte(text, '#'); j >= 0 {
			text = text[:j]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if strings.HasSuffix(text, ":") && !strings.ContainsAny(text, " \t,") {
			label := strings.TrimSuffix(text, ":")
			if !isIdent(label) {
				return nil, newParseError(pr.file, line, "invalid label %q", label)
			}
			if _, dup := fn.Labels[label]; dup {
				return nil, newParseError(pr.file, line, "duplicate label %q in %s", label, name)
			}
			fn.Labels[label] = len(fn.Code)
			continue
		}
		in, target, err := pr.instr(text, line)
		if err != nil {
			return nil, err
		}
		if target != "" {
			if pr.targets == nil {
				pr.targets = make(map[string]map[int]string)
			}
			if pr.targets[name] == nil {
				pr.targets[name] = make(map[int]string)
			}
			pr.targets[name][len(fn.Code)] = target
		}
		fn.Code = append(fn.Code, in)
	}
	return fn, nil
}

func (pr *parser) instr(text string, line int) (Instr, string, error) {
	mnemonic, rest := text, ""
	if i := strings.IndexAny(text, " \t"); i >= 0 {
		mnemonic, rest = text[:i], text[i+1:]
	}
	op, ok := opNames[mnemonic]
	if !ok {
		err := newParseError(pr.file, line, "unknown operation %q", mnemonic)
		if s := closestOp(mnemonic); s != "" {
			err.withSuggestion("Did you mean %q?", s)
		}
		return Instr{}, "", err
	}
	sig := signatures[op]
	in := Instr{Op: op, Line: line, Text: text, Ord: sig.def}

	var args []string
	if rest = strings.TrimSpace(rest); rest != "" {
		for _, a := range strings.Split(rest, ",") {
			args = append(args, strings.TrimSpace(a))
		}
	}

	if sig.ordering != 0 && len(args) > 0 && event.IsOrdering(args[len(args)-1]) {
		in.Ord, _ = event.ParseOrdering(args[len(args)-1])
		args = args[:len(args)-1]
	} else if sig.ordering == 'r' {
		return Instr{}, "", newParseError(pr.file, line, "%s needs a memory ordering", mnemonic).
			withSuggestion("Use one of: na rlx acq rel acqrel sc")
	}

	want := len(sig.operands)
	if sig.dst {
		want++
	}
	if len(args) > want || len(args) < want-sig.optional {
		return Instr{}, "", newParseError(pr.file, line, "%s takes %d operands, got %d", mnemonic, want, len(args)).
			withSuggestion("%s", usage(op))
	}

	if sig.dst {
		if !isReg(args[0]) {
			return Instr{}, "", newParseError(pr.file, line, "%s: destination %q is not a register", mnemonic, args[0]).
				withSuggestion("Registers are written %%name, e.g. %%r1")
		}
		in.Dst = args[0][1:]
		args = args[1:]
	}

	var target string
	for i, a := range args {
		switch sig.operands[i] {
		case 'L':
			o, err := pr.location(a, line)
			if err != nil {
				return Instr{}, "", err
			}
			in.Args = append(in.Args, o)
		case 'V':
			o, err := pr.value(a, line)
			if err != nil {
				return Instr{}, "", err
			}
			in.Args = append(in.Args, o)
		case 'C':
			c, ok := condNames[a]
			if !ok {
				return Instr{}, "", newParseError(pr.file, line, "unknown condition %q", a).
					withSuggestion("Use one of: eq ne lt le gt ge")
			}
			in.Cond = c
		case 'T':
			if !isIdent(a) {
				return Instr{}, "", newParseError(pr.file, line, "invalid jump target %q", a)
			}
			target = a
		case 'F':
			if !isIdent(a) {
				return Instr{}, "", newParseError(pr.file, line, "invalid function name %q", a)
			}
			in.Func = a
		case 'N':
			name := strings.Trim(a, "\"")
			if name == "" {
				return Instr{}, "", newParseError(pr.file, line, "empty file name")
			}
			in.File = name
			pr.files[name] = true
		}
	}
	return in, target, nil
}

func (pr *parser) value(s string, line int) (Operand, error) {
	switch {
	case isReg(s):
		return Operand{Kind: Reg, Reg: s[1:]}, nil
	case strings.HasPrefix(s, "&"):
		i, ok := pr.prog.GlobalIndex(s[1:])
		if !ok {
			return Operand{}, pr.unknownGlobal(s[1:], line)
		}
		return Operand{Kind: AddrOf, Global: i}, nil
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		if isIdent(s) {
			if _, ok := pr.prog.GlobalIndex(s); ok {
				return Operand{}, newParseError(pr.file, line, "global %q used as a value", s).
					withSuggestion("Load it into a register first, or write &%s for its address", s)
			}
		}
		return Operand{}, newParseError(pr.file, line, "invalid value %q", s)
	}
	return Operand{Kind: Imm, Value: v}, nil
}

func (pr *parser) location(s string, line int) (Operand, error) {
	if strings.HasPrefix(s, "*") {
		reg, off, hasOff := strings.Cut(s[1:], "+")
		if !isReg(reg) {
			return Operand{}, newParseError(pr.file, line, "invalid dereference %q", s).
				withSuggestion("Dereference a register: *%%p or *%%p+1")
		}
		o := Operand{Kind: Deref, Reg: reg[1:]}
		if hasOff {
			v, err := strconv.ParseInt(off, 0, 64)
			if err != nil || v < 0 || v >= event.MaxAllocation {
				return Operand{}, newParseError(pr.file, line, "invalid offset in %q", s)
			}
			o.Value = v
		}
		return o, nil
	}
	i, ok := pr.prog.GlobalIndex(s)
	if !ok {
		return Operand{}, pr.unknownGlobal(s, line)
	}
	return Operand{Kind: Global, Global: i}, nil
}

func (pr *parser) unknownGlobal(name string, line int) *ParseError {
	return newParseError(pr.file, line, "unknown global %q", name).
		withSuggestion("Declare it under globals: [{name: %s, init: 0}]", name)
}

// resolve binds jump targets and checks function references.
func (pr *parser) resolve() error {
	p := pr.prog
	if _, ok := p.Functions[p.Main]; !ok {
		return newParseError(p.File, 0, "entry function %q is not defined", p.Main)
	}
	if p.Recovery != "" {
		if _, ok := p.Functions[p.Recovery]; !ok {
			return newParseError(p.File, 0, "recovery function %q is not defined", p.Recovery)
		}
	}
	for name, fn := range p.Functions {
		for i := range fn.Code {
			in := &fn.Code[i]
			if label, ok := pr.targets[name][i]; ok {
				target, ok := fn.Labels[label]
				if !ok {
					return newParseError(p.File, in.Line, "undefined label %q in %s", label, name)
				}
				in.Target = target
			}
			if in.Op == OpSpawn {
				if _, ok := p.Functions[in.Func]; !ok {
					return newParseError(p.File, in.Line, "spawn of undefined function %q", in.Func)
				}
			}
		}
	}
	return nil
}

func isReg(s string) bool {
	return len(s) > 1 && s[0] == '%' && isIdent(s[1:])
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func usage(op Op) string {
	sig := signatures[op]
	var parts []string
	if sig.dst {
		parts = append(parts, "%dst")
	}
	for _, c := range sig.operands {
		parts = append(parts, map[rune]string{
			'L': "LOC", 'V': "VAL", 'C': "COND", 'T': "LABEL", 'F': "FUNC", 'N': "NAME",
		}[c])
	}
	if sig.ordering != 0 {
		parts = append(parts, "ORD")
	}
	return "Usage: " + strings.TrimSpace(op.String()+" "+strings.Join(parts, ", "))
}

// closestOp returns the opcode within edit distance 2 of s, if any.
func closestOp(s string) string {
	best, bestDist := "", 3
	for name := range opNames {
		if d := editDistance(s, name); d < bestDist || d == bestDist && name < best {
			best, bestDist = name, d
		}
	}
	if bestDist > 2 {
		return ""
	}
	return best
}

func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
