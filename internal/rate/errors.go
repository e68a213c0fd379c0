package rate

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited is the sentinel matched by errors.Is against a
// [*DeniedError].
var ErrRateLimited = errors.New("rate limited")

// ErrRedisUnavailable is returned when the counter store is unreachable.
// The limiter fails closed on this condition.
var ErrRedisUnavailable = errors.New("rate limiter redis unavailable")

// DeniedError reports an exceeded ceiling together with the remaining
// window of the dimension that denied the request.
type DeniedError struct {
	Scope      Scope
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %s", e.Scope, e.RetryAfter)
}

// Is lets errors.Is(err, ErrRateLimited) match a denial.
func (e *DeniedError) Is(target error) bool {
	return target == ErrRateLimited
}
