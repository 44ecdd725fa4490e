package pricing

import (
	"errors"
	"fmt"
)

// ErrUnparsablePrice means the market answered but carried no usable price.
// It is a soft outcome: no price is available this cycle.
var ErrUnparsablePrice = errors.New("unparsable market price")

// PersistenceError means a good price was fetched but could not be recorded
type PersistenceError struct {
	ItemID int64
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to record price for item %d: %v", e.ItemID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
