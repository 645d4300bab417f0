package locator

import (
	"errors"
	"fmt"
)

// ErrReentrancyRejected is returned when a click, toggle or cancel arrives
// while a resolution is outstanding. Callers drop it silently.
var ErrReentrancyRejected = errors.New("resolution in flight")

// ErrEngineClosed is returned when an event is posted to a stopped engine.
var ErrEngineClosed = errors.New("overlay engine closed")

// ErrUnknownRegion is returned for clicks on a region id that is not rendered.
var ErrUnknownRegion = errors.New("unknown region")

// PatternCompileError reports a configured pattern that failed to compile.
// The pattern is skipped; evaluation continues with the rest.
type PatternCompileError struct {
	Kind    string // "exclusion" or "grouping"
	Index   int
	Pattern string
	Cause   error
}

func (e *PatternCompileError) Error() string {
	return fmt.Sprintf("%s pattern %d %q: %v", e.Kind, e.Index, e.Pattern, e.Cause)
}

func (e *PatternCompileError) Unwrap() error { return e.Cause }
