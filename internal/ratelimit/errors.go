package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLimitExceeded is the sentinel every LimitExceededError unwraps to.
	ErrLimitExceeded = errors.New("rate limit exceeded")

	// ErrStoreUnavailable is returned by Check only in strict mode when
	// the counter store cannot be reached. In the default fail-open mode
	// store failures are absorbed and the request is allowed.
	ErrStoreUnavailable = errors.New("counter store unavailable")
)

// LimitExceededError is the structured rejection raised when a request
// runs over one of its windows. It is the only failure mode that
// crosses the engine boundary.
type LimitExceededError struct {
	Category   string
	Identifier string
	LimitType  Window
	RetryAfter time.Duration
	Decision   *Decision
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s endpoint (%s window, retry after %ds)",
		e.Category, e.LimitType, int(e.RetryAfter.Seconds()))
}

func (e *LimitExceededError) Unwrap() error {
	return ErrLimitExceeded
}

// AsLimitExceeded extracts the structured rejection from an error chain.
func AsLimitExceeded(err error) (*LimitExceededError, bool) {
	var lee *LimitExceededError
	if errors.As(err, &lee) {
		return lee, true
	}
	return nil, false
}
