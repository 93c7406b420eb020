package api

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrRoundFetch          = errors.New("failed to fetch round state")
	ErrTokenHoldersFetch   = errors.New("failed to fetch token holders")
	ErrEligibleVotersFetch = errors.New("failed to fetch eligible voters")
	ErrBroadcast           = errors.New("failed to broadcast vote")
)

// RequestError reports a failed call to the tally server. errors.Is matches
// it against its Kind.
type RequestError struct {
	Kind       error
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	s := e.Kind.Error()
	if e.StatusCode != 0 {
		s += fmt.Sprintf(": %s returned status %d", e.Endpoint, e.StatusCode)
		if e.Body != "" {
			s += fmt.Sprintf(" (%s)", e.Body)
		}
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *RequestError) Is(target error) bool {
	return target == e.Kind
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
