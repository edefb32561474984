// Package errors provides the standardized error taxonomy of the enrollment sync engine.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeIdentityUnavailable   ErrorCode = "IDENTITY_UNAVAILABLE"
	ErrCodeAuthenticationExpired ErrorCode = "AUTHENTICATION_EXPIRED"
	ErrCodeValidationFailed      ErrorCode = "VALIDATION_FAILED"
	ErrCodeSaveFailed            ErrorCode = "SAVE_FAILED"
	ErrCodeSubmitFailed          ErrorCode = "SUBMIT_FAILED"
	ErrCodeUploadFailed          ErrorCode = "UPLOAD_FAILED"
	ErrCodeHydrationFailed       ErrorCode = "HYDRATION_FAILED"
	ErrCodeStepLocked            ErrorCode = "STEP_LOCKED"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
)

// Recovery names what the wizard does after an error has been surfaced.
type Recovery string

const (
	RecoveryRetryOnNextSave Recovery = "retry_on_next_save"
	RecoveryReauthenticate  Recovery = "reauthenticate"
	RecoveryCorrectInput    Recovery = "correct_input"
	RecoveryStayOnStep      Recovery = "stay_on_step"
	RecoveryNone            Recovery = "none"
)

// StandardError represents a structured engine error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches any StandardError carrying the same code.
func (e *StandardError) Is(target error) bool {
	var other *StandardError
	if stderrors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// Recovery returns the recovery action associated with the error code.
func (e *StandardError) Recovery() Recovery {
	return GetRecovery(e.Code)
}

// Sentinels usable with errors.Is.
var (
	ErrIdentityUnavailable   = &StandardError{Code: ErrCodeIdentityUnavailable}
	ErrAuthenticationExpired = &StandardError{Code: ErrCodeAuthenticationExpired}
	ErrValidationFailed      = &StandardError{Code: ErrCodeValidationFailed}
	ErrSaveFailed            = &StandardError{Code: ErrCodeSaveFailed}
	ErrSubmitFailed          = &StandardError{Code: ErrCodeSubmitFailed}
	ErrUploadFailed          = &StandardError{Code: ErrCodeUploadFailed}
	ErrHydrationFailed       = &StandardError{Code: ErrCodeHydrationFailed}
	ErrStepLocked            = &StandardError{Code: ErrCodeStepLocked}
)

// ==========================
// 2. Error Constructors
// ==========================

func newError(code ErrorCode, message string, retryable bool, cause error) *StandardError {
	e := &StandardError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// NewIdentityUnavailableError is returned when the application id could not be created or fetched.
func NewIdentityUnavailableError(cause error) *StandardError {
	return newError(ErrCodeIdentityUnavailable, "Could not obtain an application id", true, cause)
}

// NewAuthenticationExpiredError is returned when the backend rejects a call as unauthorized.
func NewAuthenticationExpiredError(cause error) *StandardError {
	return newError(ErrCodeAuthenticationExpired, "Authentication required", false, cause)
}

// NewValidationFailedError carries the field errors that blocked a transition.
func NewValidationFailedError(section string, fieldErrors map[string]string) *StandardError {
	e := newError(ErrCodeValidationFailed, "Please correct the highlighted fields", false, nil)
	e.Details = summarizeFieldErrors(fieldErrors)
	e.Metadata = map[string]interface{}{
		"section": section,
		"fields":  fieldErrors,
	}
	return e
}

// NewSaveFailedError wraps a transient autosave failure.
func NewSaveFailedError(cause error) *StandardError {
	return newError(ErrCodeSaveFailed, "Your changes could not be saved", true, cause)
}

// NewSubmitFailedError wraps a per-step or full submission failure. reason is the
// server-provided message when available.
func NewSubmitFailedError(reason string, cause error) *StandardError {
	message := "Submission failed"
	if strings.TrimSpace(reason) != "" {
		message = reason
	}
	return newError(ErrCodeSubmitFailed, message, false, cause)
}

// NewUploadFailedError wraps a document upload failure.
func NewUploadFailedError(cause error) *StandardError {
	return newError(ErrCodeUploadFailed, "Document upload failed", false, cause)
}

// NewHydrationFailedError wraps a failure to load a saved application.
func NewHydrationFailedError(applicationID string, cause error) *StandardError {
	e := newError(ErrCodeHydrationFailed, "Could not load your saved application", true, cause)
	e.Metadata = map[string]interface{}{"applicationId": applicationID}
	return e
}

// NewStepLockedError is returned for transitions blocked by the step state machine.
func NewStepLockedError(step int, reason string) *StandardError {
	e := newError(ErrCodeStepLocked, reason, false, nil)
	e.Metadata = map[string]interface{}{"step": step}
	return e
}

// NewInternalError wraps an unexpected error.
func NewInternalError(cause error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", false, cause)
}

func summarizeFieldErrors(fieldErrors map[string]string) string {
	if len(fieldErrors) == 0 {
		return ""
	}
	fields := make([]string, 0, len(fieldErrors))
	for field := range fieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "invalid fields: " + strings.Join(fields, ", ")
}

// ==========================
// 3. Recovery Table
// ==========================

var recoveryTable = map[ErrorCode]Recovery{
	ErrCodeIdentityUnavailable:   RecoveryRetryOnNextSave,
	ErrCodeSaveFailed:            RecoveryRetryOnNextSave,
	ErrCodeHydrationFailed:       RecoveryRetryOnNextSave,
	ErrCodeAuthenticationExpired: RecoveryReauthenticate,
	ErrCodeValidationFailed:      RecoveryCorrectInput,
	ErrCodeSubmitFailed:          RecoveryStayOnStep,
	ErrCodeUploadFailed:          RecoveryStayOnStep,
	ErrCodeStepLocked:            RecoveryStayOnStep,
}

// GetRecovery returns the recovery action for a code.
func GetRecovery(code ErrorCode) Recovery {
	if r, ok := recoveryTable[code]; ok {
		return r
	}
	return RecoveryNone
}

// ==========================
// 4. Utility Functions
// ==========================

// AsStandard extracts a StandardError from err's chain.
func AsStandard(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the code of err, INTERNAL_ERROR for foreign errors.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandard(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// IsRetryableErrorCode reports whether the next user-triggered attempt may succeed.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRecovery(code) == RecoveryRetryOnNextSave
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeAuthenticationExpired:
		return "AUTH"
	case ErrCodeValidationFailed, ErrCodeStepLocked:
		return "LOCAL"
	case ErrCodeIdentityUnavailable, ErrCodeSaveFailed, ErrCodeHydrationFailed:
		return "SYNC"
	case ErrCodeSubmitFailed, ErrCodeUploadFailed:
		return "SUBMISSION"
	default:
		return "OTHER"
	}
}
