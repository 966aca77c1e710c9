package catalog

import "fmt"

// ConflictError represents an insert that violated one of the catalog's
// uniqueness constraints, such as a duplicate (castid, episodeid) pair or
// a feed URL that is already subscribed.
type ConflictError struct {
	Entity string // What was being inserted (e.g., "episode", "podcast")
	Key    string // Human-readable key that collided (e.g., "castid=1 episodeid=12")
	Err    error  // Underlying driver error, if any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists for %s", e.Entity, e.Key)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// DbError represents failed catalog operations: lost connections, failed
// transactions, and other driver-level errors.
type DbError struct {
	Op  string // The operation that failed (e.g., "insert_episode")
	Err error  // Underlying error, if any
}

func (e *DbError) Error() string {
	return fmt.Sprintf("catalog operation %s failed", e.Op)
}

func (e *DbError) Unwrap() error {
	return e.Err
}
