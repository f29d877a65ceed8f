package cdpcontrol

import "fmt"

const (
	CodeValidation         = "VALIDATION"
	CodeTabNotFound        = "TAB_NOT_FOUND"
	CodeRestrictedPage     = "RESTRICTED_PAGE"
	CodeEvalFailure        = "EVAL_FAILURE"
	CodeEvalTimeout        = "EVAL_TIMEOUT"
	CodeCDPUnavailable     = "CDP_UNAVAILABLE"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeNotFound           = "NOT_FOUND"
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

// NewError builds a CodedError. Other packages use it so every API-facing
// failure carries one of the codes above.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

func newError(code, msg string, cause error) error {
	return NewError(code, msg, cause)
}
