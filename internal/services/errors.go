package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Standard service errors
var (
	// Network and connectivity errors
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrTimeout            = errors.New("operation timed out")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnexpectedResponse = errors.New("unexpected response")

	// Controller state errors
	ErrInvalidState      = errors.New("operation not allowed in current state")
	ErrSubmitInFlight    = errors.New("submission already in progress")
	ErrDialogClosed      = errors.New("dialog closed")
	ErrFieldNotSupported = errors.New("field not supported for channel")
	ErrInvalidChannel    = errors.New("invalid channel")

	// Deletion errors
	ErrDeleteAlreadyPending = errors.New("a delete request is already pending for this target")
	ErrConfirmInFlight      = errors.New("confirmation already in progress")
	ErrEmptyTargetID        = errors.New("target ID cannot be empty")
	ErrDeleteRequestExpired = errors.New("delete request expired")
	ErrAttemptsExhausted    = errors.New("too many incorrect codes")
	ErrNoPendingDelete      = errors.New("no pending delete request for this target")
)

// Generic user-facing messages
const (
	MsgGenericNetwork = "Something went wrong. Please check your connection and try again."
	MsgGenericReject  = "The message could not be sent. Please review it and try again."
	MsgDeleteFailed   = "The delete request could not be started. Please try again."
	MsgOTPRejected    = "The code was not accepted."
	MsgDeleteExpired  = "This delete request has expired. Start a new one to receive a fresh code."
)

// ErrorKind classifies errors surfaced at a controller boundary
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindClientValidation ErrorKind = "client_validation"
	KindServerValidation ErrorKind = "server_validation"
	KindServerRejection  ErrorKind = "server_rejection"
	KindTransport        ErrorKind = "transport"
	KindState            ErrorKind = "state"
)

// FieldError is a validation problem attached to a single form field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ClientValidationError is raised before any network call and blocks submission
type ClientValidationError struct {
	Errors []FieldError
}

func (e *ClientValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ServerValidationError is an apiStatus=false response carrying a field-error map
type ServerValidationError struct {
	Message string
	Fields  map[string][]string
}

func (e *ServerValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fmt.Sprintf("server validation failed for %s", strings.Join(fields, ", "))
}

// ServerRejectionError is an apiStatus=false response without field errors, or an OTP rejection
type ServerRejectionError struct {
	Message string
}

func (e *ServerRejectionError) Error() string {
	return "rejected by server: " + e.Message
}

// TransportError wraps a failed call: the request never produced an application response
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrorKindOf maps an error returned by a controller to its taxonomy kind
func ErrorKindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var cv *ClientValidationError
	var sv *ServerValidationError
	var sr *ServerRejectionError
	var te *TransportError
	switch {
	case errors.As(err, &cv):
		return KindClientValidation
	case errors.As(err, &sv):
		return KindServerValidation
	case errors.As(err, &sr):
		return KindServerRejection
	case errors.As(err, &te):
		return KindTransport
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrSubmitInFlight),
		errors.Is(err, ErrDialogClosed), errors.Is(err, ErrConfirmInFlight),
		errors.Is(err, ErrDeleteAlreadyPending), errors.Is(err, ErrNoPendingDelete),
		errors.Is(err, ErrDeleteRequestExpired):
		return KindState
	default:
		return KindTransport
	}
}

// IsRetryableError determines if the same action may simply be retried
func IsRetryableError(err error) bool {
	var te *TransportError
	return errors.As(err, &te) ||
		errors.Is(err, ErrNetworkUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrRateLimited)
}
