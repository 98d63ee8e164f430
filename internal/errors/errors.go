// Package errors provides unified error handling with structured error codes.
// Codes map onto gRPC status codes so failures from the recognition service
// and local failures share one taxonomy.
package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode classifies an AppError.
type ErrorCode int32

const (
	CodeUnknown ErrorCode = iota
	CodeInternal
	CodeInvalidArgument
	CodeNotFound
	CodeUnavailable
	CodeTimeout
	CodeCancelled
	CodeDetectionFailed
	CodeDetectionMalformed
	CodeSpeechBusy
	CodeSpeechThrottled
	CodeSpeechFailed
	CodeVoiceUnavailable
	CodeProfileStoreFailed
	CodeConfigInvalid
)

var codeNames = map[ErrorCode]string{
	CodeUnknown:            "UNKNOWN",
	CodeInternal:           "INTERNAL",
	CodeInvalidArgument:    "INVALID_ARGUMENT",
	CodeNotFound:           "NOT_FOUND",
	CodeUnavailable:        "UNAVAILABLE",
	CodeTimeout:            "TIMEOUT",
	CodeCancelled:          "CANCELLED",
	CodeDetectionFailed:    "DETECTION_FAILED",
	CodeDetectionMalformed: "DETECTION_MALFORMED",
	CodeSpeechBusy:         "SPEECH_BUSY",
	CodeSpeechThrottled:    "SPEECH_THROTTLED",
	CodeSpeechFailed:       "SPEECH_FAILED",
	CodeVoiceUnavailable:   "VOICE_UNAVAILABLE",
	CodeProfileStoreFailed: "PROFILE_STORE_FAILED",
	CodeConfigInvalid:      "CONFIG_INVALID",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", int32(c))
}

// grpcCodeMap maps ErrorCode to gRPC status codes.
var grpcCodeMap = map[ErrorCode]codes.Code{
	CodeUnknown:            codes.Unknown,
	CodeInternal:           codes.Internal,
	CodeInvalidArgument:    codes.InvalidArgument,
	CodeNotFound:           codes.NotFound,
	CodeUnavailable:        codes.Unavailable,
	CodeTimeout:            codes.DeadlineExceeded,
	CodeCancelled:          codes.Canceled,
	CodeDetectionFailed:    codes.Unavailable,
	CodeDetectionMalformed: codes.InvalidArgument,
	CodeSpeechBusy:         codes.ResourceExhausted,
	CodeSpeechThrottled:    codes.ResourceExhausted,
	CodeSpeechFailed:       codes.Internal,
	CodeVoiceUnavailable:   codes.FailedPrecondition,
	CodeProfileStoreFailed: codes.Internal,
	CodeConfigInvalid:      codes.InvalidArgument,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     ErrorCode
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus lets status.FromError recognise an AppError.
func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.GRPCCode(), e.Error())
}

// New creates a new AppError with the given code and message.
func New(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError converts an error returned by a gRPC call into an AppError.
func FromGRPCError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: CodeUnknown, Message: err.Error(), Cause: err}
	}
	return &AppError{Code: grpcToErrorCode(st.Code()), Message: st.Message(), Cause: err}
}

// grpcToErrorCode maps gRPC codes back to our error codes (best effort).
func grpcToErrorCode(c codes.Code) ErrorCode {
	switch c {
	case codes.InvalidArgument:
		return CodeInvalidArgument
	case codes.NotFound:
		return CodeNotFound
	case codes.Unavailable:
		return CodeUnavailable
	case codes.DeadlineExceeded:
		return CodeTimeout
	case codes.Canceled:
		return CodeCancelled
	case codes.Internal:
		return CodeInternal
	default:
		return CodeUnknown
	}
}

// IsCode checks if an error (or anything it wraps) has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case CodeUnavailable, CodeTimeout, CodeDetectionFailed, CodeProfileStoreFailed:
		return true
	default:
		return false
	}
}
