package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/ignite/delivery-stats/internal/session"
)

// Sentinel errors returned by metric groups. Groups wrap them with context.
var (
	// ErrMissingData means the platform has nothing for the day. Groups
	// return it only from a known response signal, never from a parse crash.
	ErrMissingData = errors.New("no data for day")

	// ErrUnauthorized means the platform rejected the access token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTransient means a server-side or network failure worth retrying.
	ErrTransient = errors.New("transient failure")

	// ErrMalformed means the response could not be decoded or had an
	// unexpected shape.
	ErrMalformed = errors.New("malformed response")
)

// StatusError is a non-2xx platform response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Unwrap maps the status onto the collector's sentinels.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return ErrTransient
	}
	return nil
}

// Malformed wraps a decode failure as ErrMalformed.
func Malformed(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrMalformed, what)
	}
	return fmt.Errorf("%w: %s: %v", ErrMalformed, what, err)
}

// Outcome is the classification of one fetch attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeMissingData
	OutcomeTransientError
	OutcomeAuthError
	// OutcomeFatalError covers everything else. It is fatal for the
	// attempt, not for the loop: it feeds the generic error streak.
	OutcomeFatalError
)

var outcomeNames = map[Outcome]string{
	OutcomeSuccess:        "success",
	OutcomeMissingData:    "missing-data",
	OutcomeTransientError: "transient-error",
	OutcomeAuthError:      "auth-error",
	OutcomeFatalError:     "fatal-error",
}

func (o Outcome) String() string { return outcomeNames[o] }

// Classify maps a fetch error onto an Outcome. Cancellation is fatal so a
// stopping process does not retry.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeFatalError
	case errors.Is(err, session.ErrAuthImpossible):
		return OutcomeFatalError
	case errors.Is(err, ErrMissingData):
		return OutcomeMissingData
	case errors.Is(err, ErrUnauthorized):
		return OutcomeAuthError
	case errors.Is(err, ErrTransient):
		return OutcomeTransientError
	case errors.Is(err, ErrMalformed):
		return OutcomeFatalError
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return OutcomeTransientError
	}
	return OutcomeFatalError
}
