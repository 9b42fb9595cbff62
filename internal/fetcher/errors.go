package fetcher

import (
	"errors"
	"strings"
)

var (
	// ErrProviderUnavailable marks a provider that could not be attempted or
	// did not answer: missing credential, open circuit, network failure,
	// non-2xx status, timeout or a malformed body.
	ErrProviderUnavailable = errors.New("fetcher: provider unavailable")
	// ErrInconclusiveMetrics marks a response whose counters were all zero.
	ErrInconclusiveMetrics = errors.New("fetcher: inconclusive metrics")
	// ErrAllProvidersExhausted is wrapped by *FetchError.
	ErrAllProvidersExhausted = errors.New("fetcher: all providers exhausted")
)

// AttemptError is the failure of one strategy in the chain.
type AttemptError struct {
	Provider string
	Err      error
}

func (e AttemptError) Error() string { return e.Provider + ": " + e.Err.Error() }

// FetchError is returned when no strategy produced acceptable metrics.
type FetchError struct {
	Attempts []AttemptError
}

func (e *FetchError) Error() string {
	if e == nil || len(e.Attempts) == 0 {
		return ErrAllProvidersExhausted.Error()
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return ErrAllProvidersExhausted.Error() + " (" + strings.Join(parts, "; ") + ")"
}

// Unwrap exposes the sentinel and every attempt cause to errors.Is/As.
func (e *FetchError) Unwrap() []error {
	out := []error{ErrAllProvidersExhausted}
	if e == nil {
		return out
	}
	for _, a := range e.Attempts {
		if a.Err != nil {
			out = append(out, a.Err)
		}
	}
	return out
}
