package chef

import (
	"errors"
	"fmt"
)

var (
	// ErrUnterminatedBlock is returned when a block opener has no
	// structurally matching terminator within the scan window.
	ErrUnterminatedBlock = errors.New("chef: unterminated block")

	// ErrParseTimeout is returned when scanning a single block exceeds
	// the wall-clock budget. This bounds pathological input.
	ErrParseTimeout = errors.New("chef: parse timeout")

	// ErrResourceTooLarge is returned when a resource body exceeds the
	// per-block size cap.
	ErrResourceTooLarge = errors.New("chef: resource block too large")

	// ErrGuardSyntax is returned when a guard clause cannot be
	// normalized into a known expression form. The resource is kept and
	// the guard dropped with a warning.
	ErrGuardSyntax = errors.New("chef: unrecognized guard syntax")
)

// ParseWarning records a non-fatal problem found while parsing a recipe.
type ParseWarning struct {
	Source  string `json:"source"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (w ParseWarning) String() string {
	return fmt.Sprintf("%s:%d: %s", w.Source, w.Line, w.Message)
}

// ParseFailure records a resource that could not be parsed. Parsing
// continues with the next top-level statement; failures are surfaced to
// the caller for manual-review accounting, never silently dropped.
type ParseFailure struct {
	Source string `json:"source"`
	Line   int    `json:"line"`
	Head   string `json:"head"`
	Err    error  `json:"-"`
}

func (f ParseFailure) Error() string {
	return fmt.Sprintf("%s:%d: %q: %v", f.Source, f.Line, f.Head, f.Err)
}

func (f ParseFailure) Unwrap() error { return f.Err }
