package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/smithy-go"
)

var (
	ErrProjectNotFound    = errors.New("project not found")
	ErrTemplateMissing    = errors.New("template subpath not found in source repository")
	ErrDomainNotFound     = errors.New("no SageMaker domain found with matching project tag")
	ErrMissingRequiredKey = errors.New("required secret key is missing or empty")
	ErrGitHubTokenEmpty   = errors.New("github token secret resolved to an empty value")
	ErrLockHeld           = errors.New("another provisioning run holds the project lock")
)

// Kind classifies a failure so the orchestrator can decide retry-vs-halt
// without inspecting provider-specific error internals.
type Kind string

const (
	KindTransient   Kind = "Transient"   // network/rate-limit, retried with backoff
	KindNotFound    Kind = "NotFound"    // missing project/template, never retried
	KindConflict    Kind = "Conflict"    // unmerged local changes, requires manual resolution
	KindAuthFailure Kind = "AuthFailure" // credentials/permissions, fatal immediately
	KindTimeout     Kind = "Timeout"     // bounded wait exceeded
	KindInternal    Kind = "Internal"    // everything else, fatal
)

// Error is the normalized failure returned by provisioning steps.
// SecretKey carries the name of an offending secret key, never its value.
type Error struct {
	Kind      Kind
	Step      string
	SecretKey string
	Err       error
}

func (e *Error) Error() string {
	if e.SecretKey != "" {
		return fmt.Sprintf("%s: %s (key %s): %v", e.Step, e.Kind, e.SecretKey, e.Err)
	}
	if e.Step != "" {
		return fmt.Sprintf("%s: %s: %v", e.Step, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a classification kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// NewStep wraps err with a classification kind attributed to a named step.
func NewStep(kind Kind, step string, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}

// KindOf extracts the classification from err, defaulting to Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether the orchestrator may retry the failed operation.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// ClassifyAWS maps an AWS SDK error into the failure taxonomy. Throttling and
// 5xx responses are transient; access denials are auth failures; resource
// lookups that miss are NotFound.
func ClassifyAWS(err error) Kind {
	if err == nil {
		return KindInternal
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "RequestLimitExceeded",
			"ProvisionedThroughputExceededException", "ServiceUnavailable",
			"InternalServerError", "InternalFailure", "InternalServerException",
			"ServiceUnavailableException":
			return KindTransient
		case "AccessDeniedException", "AccessDenied", "UnauthorizedException",
			"UnrecognizedClientException", "ExpiredTokenException", "InvalidClientTokenId":
			return KindAuthFailure
		case "ResourceNotFoundException", "ResourceNotFound", "NoSuchEntity", "NotFoundException":
			return KindNotFound
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return KindTransient
		}
		return KindInternal
	}

	// Connection resets, DNS failures and friends come through as plain
	// errors from the HTTP transport.
	return KindTransient
}

// ClassifyHTTPStatus maps a GitHub REST status code into the failure taxonomy.
func ClassifyHTTPStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthFailure
	case status == http.StatusNotFound || status == http.StatusGone:
		return KindNotFound
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return KindConflict
	case status == http.StatusTooManyRequests || status >= 500:
		return KindTransient
	default:
		return KindInternal
	}
}
