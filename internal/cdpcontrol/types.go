package cdpcontrol

import "fmt"

const (
	CodeValidation     = "VALIDATION"
	CodeTabNotFound    = "TAB_NOT_FOUND"
	CodeEvalFailure    = "EVAL_FAILURE"
	CodeEvalTimeout    = "EVAL_TIMEOUT"
	CodeCDPUnavailable = "CDP_UNAVAILABLE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// TabInfo describes a page tab mapped from a browser target.
type TabInfo struct {
	TabID    string `json:"tab_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Attached bool   `json:"attached"`
}

// Page event types emitted through the page binding.
const (
	EventClick  = "click"
	EventHover  = "hover"
	EventLeave  = "leave"
	EventCancel = "cancel"
	EventFocus  = "focus"
)

// PageEvent is one user interaction reported by the page.
type PageEvent struct {
	TabID  string `json:"tab_id"`
	Type   string `json:"type"`
	Region int    `json:"region"`
}
