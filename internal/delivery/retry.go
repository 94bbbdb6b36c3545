package delivery

import "time"

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Backoff returns the wait after the attempt with 0-based index n:
// base, 2*base, 4*base, ...
func Backoff(base time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	return base << uint(n)
}

func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
