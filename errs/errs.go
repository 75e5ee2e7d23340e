// Package errs provides structured error types and helpers for trunkwatch services.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies an error category surfaced by the engine.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeAuth indicates authentication or authorization errors.
	CodeAuth Code = "auth"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates a dependency is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
	// CodeRateLimited indicates that the request exceeded rate limits.
	CodeRateLimited Code = "rate_limited"
	// CodeInternal captures uncategorized failures.
	CodeInternal Code = "internal"
)

// Reason narrows a rejection down to one specific field or rule.
type Reason string

const (
	// ReasonUnknown covers rejections without a narrower classification.
	ReasonUnknown Reason = "unknown"
	// ReasonMissingSystem flags an import without a system name.
	ReasonMissingSystem Reason = "missing_system"
	// ReasonBadTalkgroup flags an unusable talkgroup reference.
	ReasonBadTalkgroup Reason = "bad_talkgroup"
	// ReasonBadTimestamp flags a malformed or inverted time range.
	ReasonBadTimestamp Reason = "bad_timestamp"
	// ReasonMissingAudio flags an import that neither carries audio nor declares its absence.
	ReasonMissingAudio Reason = "missing_audio"
	// ReasonBadCredential flags a missing or invalid import credential.
	ReasonBadCredential Reason = "bad_credential"
	// ReasonBadScope flags an unparseable subscription scope.
	ReasonBadScope Reason = "bad_scope"
)

// E captures structured error information produced across the trunkwatch stack.
type E struct {
	Service string
	Code    Code
	Reason  Reason
	HTTP    int
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the named service and error code.
func New(service string, code Code, opts ...Option) *E {
	e := &E{
		Service: strings.TrimSpace(service),
		Code:    code,
		Reason:  ReasonUnknown,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithReason records the specific rejection reason.
func WithReason(reason Reason) Option {
	return func(e *E) {
		if strings.TrimSpace(string(reason)) == "" {
			e.Reason = ReasonUnknown
			return
		}
		e.Reason = reason
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	service := strings.TrimSpace(e.Service)
	if service == "" {
		service = "unknown"
	}
	parts = append(parts, "service="+service)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if r := strings.TrimSpace(string(e.Reason)); r != "" && r != string(ReasonUnknown) {
		parts = append(parts, "reason="+r)
	}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Rejection returns a standardized invalid-request error for ingest validation failures.
func Rejection(reason Reason, msg string) *E {
	return New("ingest", CodeInvalid, WithReason(reason), WithMessage(msg))
}
