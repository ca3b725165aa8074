package fetch

import (
	"errors"
	"fmt"
)

// ConsistencyError reports chain data that contradicts the indexed state,
// such as a ClaimExecuted with no matching claim. It is never retried and
// terminates the indexer.
type ConsistencyError struct {
	Chain  string
	Height uint64
	Entity string
	Key    string
	Err    error
}

func (e *ConsistencyError) Error() string {
	msg := fmt.Sprintf("consistency violation on %s at height %d: %s %s", e.Chain, e.Height, e.Entity, e.Key)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must stop the indexer
func IsFatal(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
