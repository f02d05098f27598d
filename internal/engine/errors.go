package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies download failures for policy decisions and for
// the subscription interface.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota

	// KindProbe covers unreachable servers and ambiguous capability
	// responses.
	KindProbe

	// KindTransientNetwork covers timeouts, resets and 5xx responses.
	// These are retried at the worker level.
	KindTransientNetwork

	// KindPermanentHTTP covers 4xx responses and other non-retriable
	// HTTP failures.
	KindPermanentHTTP

	// KindResumeCorrupt marks an unreadable persisted resume record.
	KindResumeCorrupt

	// KindVerification marks a size or digest mismatch at finalize.
	KindVerification

	// KindFilesystem covers destination create/write failures.
	KindFilesystem

	// KindCancelled marks user-initiated cancellation.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindProbe:
		return "probe_error"
	case KindTransientNetwork:
		return "transient_network_error"
	case KindPermanentHTTP:
		return "permanent_http_error"
	case KindResumeCorrupt:
		return "resume_corrupt"
	case KindVerification:
		return "verification_error"
	case KindFilesystem:
		return "filesystem_error"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// DownloadError is a classified failure carrying a human-readable cause.
type DownloadError struct {
	Kind       ErrorKind
	Message    string
	URL        string
	HTTPStatus int
	Underlying error
}

func (e *DownloadError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DownloadError) Unwrap() error {
	return e.Underlying
}

// Retryable reports whether the failure might succeed if retried.
func (e *DownloadError) Retryable() bool {
	return e.Kind == KindTransientNetwork
}

// NewError builds a classified DownloadError.
func NewError(kind ErrorKind, message string, underlying error) *DownloadError {
	return &DownloadError{Kind: kind, Message: message, Underlying: underlying}
}

// ErrProbeAmbiguous marks a probe response with conflicting or
// unparseable capability headers. Callers fall back to single-segment
// mode instead of aborting.
var ErrProbeAmbiguous = errors.New("ambiguous probe response")

// KindOf extracts the ErrorKind from an error chain, KindUnknown when
// the chain carries no DownloadError.
func KindOf(err error) ErrorKind {
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether an arbitrary error should be retried with
// backoff: classified transient errors, net timeouts, and connection
// drops. Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Raw transport errors (reset, EOF mid-body, refused) surface as
	// *url.Error or bare syscall errors. Treat them as transient; the
	// retry budget bounds the damage when they are not.
	return true
}

// classifyStatus maps an HTTP response status to an ErrorKind.
// 5xx and 429 are transient, remaining 4xx are permanent.
func classifyStatus(status int) ErrorKind {
	switch {
	case status >= 500 || status == http.StatusTooManyRequests:
		return KindTransientNetwork
	case status >= 400:
		return KindPermanentHTTP
	default:
		return KindUnknown
	}
}

// statusError builds a DownloadError from an unexpected response status.
func statusError(url string, status int) *DownloadError {
	return &DownloadError{
		Kind:       classifyStatus(status),
		Message:    fmt.Sprintf("unexpected status %d", status),
		URL:        url,
		HTTPStatus: status,
	}
}
