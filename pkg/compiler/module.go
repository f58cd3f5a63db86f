package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Module is a unit of compiler input IR in textual form.
type Module struct {
	// Name identifies the module. It is derived from the IR's symbol name
	// when present, otherwise from the source filename.
	Name string

	// Text is the IR source.
	Text []byte
}

// moduleNameRe matches the symbol name of a textual IR module header,
// e.g. `module @jit_matmul attributes {...}`.
var moduleNameRe = regexp.MustCompile(`module\s+@([\w.$-]+)`)

// NewModule creates a module with an explicit name.
func NewModule(name string, text []byte) *Module {
	return &Module{Name: name, Text: text}
}

// LoadModule reads a module from a file. The module name is taken from the
// IR symbol name, falling back to the file's base name.
func LoadModule(path string) (*Module, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if m := moduleNameRe.FindSubmatch(text); m != nil {
		name = string(m[1])
	}

	return &Module{Name: name, Text: text}, nil
}

// Bytecode returns the canonical byte form of the module, used both as
// backend input and as cache-key material. Line endings are normalized and
// trailing whitespace is dropped so formatting differences do not defeat
// the compilation cache.
func (m *Module) Bytecode() []byte {
	s := strings.ReplaceAll(string(m.Text), "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return []byte(strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n")
}
