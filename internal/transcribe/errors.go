// Package transcribe routes transcription jobs to a local whisper
// engine or the remote API, splits oversized audio, runs segment
// workers, and stitches the results back together.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net"

	openai "github.com/sashabaranov/go-openai"
)

// Kind classifies a transcription failure for retry and reporting
// decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindAudioUnreadable
	KindFileTooLarge
	KindModelUnavailable
	KindTransient
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindAudioUnreadable:
		return "audio_unreadable"
	case KindFileTooLarge:
		return "file_too_large"
	case KindModelUnavailable:
		return "model_unavailable"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error carries the failure kind plus where it happened. Segment is -1
// for job-level failures.
type Error struct {
	Kind    Kind
	Backend string
	Segment int
	Err     error
}

func (e *Error) Error() string {
	if e.Segment >= 0 {
		return fmt.Sprintf("%s backend, segment %d: %s (%v)", e.Backend, e.Segment, e.Kind, e.Err)
	}
	if e.Backend != "" {
		return fmt.Sprintf("%s backend: %s (%v)", e.Backend, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could reasonably succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindModelUnavailable
}

func newError(kind Kind, backend string, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Segment: -1, Err: err}
}

// KindOf extracts the failure kind, defaulting to KindUnknown.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return false
}

// classifyRemote maps API and transport failures onto the taxonomy.
// Rate limits and server-side errors are transient; the rest of the 4xx
// family means the request itself is bad and retrying wastes quota.
func classifyRemote(err error) Kind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return KindTransient
		}
		return KindPermanent
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500 {
			return KindTransient
		}
		return KindPermanent
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	// Unrecognized transport failures get the benefit of the doubt.
	return KindTransient
}
