package isa

import "fmt"

// SyntaxError reports an assembler failure with its source position.
//
// Example output:
//
//	kernel.s:7: unknown opcode "brx"
//
//	Suggestion: Valid opcodes are nop, add, bra, bra.uni, bar, reconverge, exit
type SyntaxError struct {
	File       string // Source name, may be empty
	Line       int    // Line number (1-indexed)
	Message    string // Error message
	Suggestion string // Optional hint (empty if none)
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	var result string
	if e.File != "" {
		result = fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	} else {
		result = fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	if e.Suggestion != "" {
		result += fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion)
	}
	return result
}

func syntaxErrorf(file string, line int, format string, args ...any) *SyntaxError {
	return &SyntaxError{File: file, Line: line, Message: fmt.Sprintf(format, args...)}
}

func (e *SyntaxError) withSuggestion(s string) *SyntaxError {
	e.Suggestion = s
	return e
}
