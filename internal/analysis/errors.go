package analysis

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an analysis failure.
type Kind string

const (
	KindNetwork    Kind = "network_unreachable"
	KindHTTPStatus Kind = "http_status"
	KindMalformed  Kind = "malformed_response"
)

var (
	// ErrNetworkUnreachable matches errors of KindNetwork.
	ErrNetworkUnreachable = errors.New("analysis service unreachable")
	// ErrHTTPStatus matches errors of KindHTTPStatus.
	ErrHTTPStatus = errors.New("analysis service returned an error status")
	// ErrMalformedResponse matches errors of KindMalformed.
	ErrMalformedResponse = errors.New("malformed analysis response")
)

// Error is the typed failure returned by Client.Analyze.
//
// Body holds at most the first part of the response body and never contains
// the submitted image.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Body       []byte
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "analysis error"
	}
	switch {
	case e.Kind == KindHTTPStatus:
		if e.Message != "" {
			return fmt.Sprintf("analysis request failed: status %d: %s", e.StatusCode, e.Message)
		}
		return fmt.Sprintf("analysis request failed: status %d", e.StatusCode)
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the package sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetworkUnreachable:
		return e.Kind == KindNetwork
	case ErrHTTPStatus:
		return e.Kind == KindHTTPStatus
	case ErrMalformedResponse:
		return e.Kind == KindMalformed
	}
	return false
}

func malformed(msg string, err error) *Error {
	return &Error{Kind: KindMalformed, Message: msg, Err: err}
}

// KindOf returns the kind of err, or "" when err is not an analysis error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// UserMessage renders err as the message shown for a failed analysis.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "The analysis took too long. Please try again."
	case errors.Is(err, context.Canceled):
		return "The analysis was cancelled."
	}

	var e *Error
	if !errors.As(err, &e) {
		return "Failed to analyze the image. Please try again."
	}
	switch e.Kind {
	case KindNetwork:
		return "Could not reach the analysis service. Check your connection and try again."
	case KindHTTPStatus:
		return fmt.Sprintf("The analysis service returned HTTP %d. Please try again.", e.StatusCode)
	case KindMalformed:
		return "The analysis service returned an unexpected response. Please try again."
	default:
		return "Failed to analyze the image. Please try again."
	}
}
