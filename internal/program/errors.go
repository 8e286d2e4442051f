package program

import "fmt"

// ParseError reports a problem in a program file with its position.
//
// Example output:
//
//	sb.yaml:12: unknown operation "lod"
//
//	Suggestion: Did you mean "load"?
//
// Thread Safety: Immutable after creation, safe for concurrent use.
type ParseError struct {
	File       string // Program file path
	Line       int    // Line number (1-indexed, 0 when unknown)
	Message    string // Error message
	Suggestion string // Optional hint for fixing (empty if none)
}

// Error implements the error interface.
//
// Format: file:line: message, followed by the suggestion on its own
// paragraph when one is set.
func (e *ParseError) Error() string {
	var result string
	if e.Line > 0 {
		result = fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	} else {
		result = fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	if e.Suggestion != "" {
		result += fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion)
	}
	return result
}

func newParseError(file string, line int, format string, args ...any) *ParseError {
	return &ParseError{File: file, Line: line, Message: fmt.Sprintf(format, args...)}
}

// withSuggestion attaches a hint and returns the error for chaining.
func (e *ParseError) withSuggestion(format string, args ...any) *ParseError {
	e.Suggestion = fmt.Sprintf(format, args...)
	return e
}
