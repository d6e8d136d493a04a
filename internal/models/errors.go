package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies extraction failures.
type ErrorKind string

const (
	KindNavigation   ErrorKind = "NAVIGATION"    // 502
	KindStructural   ErrorKind = "STRUCTURAL"    // 422
	KindAuth         ErrorKind = "AUTH"          // 401
	KindSecondFactor ErrorKind = "SECOND_FACTOR" // 401
	KindCaptcha      ErrorKind = "CAPTCHA"       // 409
	KindLookup       ErrorKind = "LOOKUP"        // 404
	KindInvalid      ErrorKind = "INVALID"       // 400
	KindBusy         ErrorKind = "BUSY"          // 409
	KindCatastrophic ErrorKind = "CATASTROPHIC"  // 500
)

// ExtractionError is a structured failure with a kind and HTTP status.
type ExtractionError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// NewNavigationError reports a page that never loaded.
func NewNavigationError(url string, err error) *ExtractionError {
	return &ExtractionError{
		Kind:    KindNavigation,
		Status:  http.StatusBadGateway,
		Message: "failed to load portal page",
		Details: map[string]any{"url": url},
		Err:     err,
	}
}

// NewStructuralError reports a page whose layout did not match any known shape.
func NewStructuralError(msg string, details map[string]any) *ExtractionError {
	return &ExtractionError{Kind: KindStructural, Status: http.StatusUnprocessableEntity, Message: msg, Details: details}
}

// NewLookupError reports a fee lookup with no matching record.
func NewLookupError(msg string, err error) *ExtractionError {
	return &ExtractionError{Kind: KindLookup, Status: http.StatusNotFound, Message: msg, Err: err}
}

// NewAuthError reports rejected credentials or a login that did not stick.
func NewAuthError(msg string) *ExtractionError {
	return &ExtractionError{Kind: KindAuth, Status: http.StatusUnauthorized, Message: msg}
}

// NewSecondFactorError reports that a verification code is required.
func NewSecondFactorError(msg string) *ExtractionError {
	return &ExtractionError{Kind: KindSecondFactor, Status: http.StatusUnauthorized, Message: msg}
}

// NewCaptchaError reports a CAPTCHA that cannot be solved in headless mode.
func NewCaptchaError(msg string) *ExtractionError {
	return &ExtractionError{Kind: KindCaptcha, Status: http.StatusConflict, Message: msg}
}

// NewInvalidError reports bad caller input.
func NewInvalidError(msg string) *ExtractionError {
	return &ExtractionError{Kind: KindInvalid, Status: http.StatusBadRequest, Message: msg}
}

// NewBusyError reports a second extraction for a session that already has one running.
func NewBusyError(sessionID string) *ExtractionError {
	return &ExtractionError{
		Kind:    KindBusy,
		Status:  http.StatusConflict,
		Message: "an extraction is already running for this session",
		Details: map[string]any{"session_id": sessionID},
	}
}

// NewCatastrophicError reports an extraction that produced no data at all.
func NewCatastrophicError(caseID string, err error) *ExtractionError {
	return &ExtractionError{
		Kind:    KindCatastrophic,
		Status:  http.StatusInternalServerError,
		Message: "case extraction failed",
		Details: map[string]any{"case_id": caseID},
		Err:     err,
	}
}

// KindOf returns the kind of the first ExtractionError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind, true
	}
	return "", false
}
