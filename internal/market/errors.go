package market

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned when the market API answers 429 Too Many Requests
var ErrRateLimited = errors.New("market api rate limited")

// FetchError is a non-success answer from the market API other than a rate limit
type FetchError struct {
	StatusCode int
	Reason     string
}

func (e *FetchError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("market api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("market api returned status %d: %s", e.StatusCode, e.Reason)
}
