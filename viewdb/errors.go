package viewdb

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMessage is returned by key-addressed queries when no row
	// exists, including after deletion by ban or drop request.
	ErrUnknownMessage = errors.New("viewdb: unknown message")

	// ErrUnknownAuthor is returned by author-addressed queries for a feed
	// the store has never seen.
	ErrUnknownAuthor = errors.New("viewdb: unknown author")
)

// StorageError marks a fault in the underlying store. A batch that fails
// with one has been rolled back completely and may be retried wholesale;
// callers should treat it as fatal to the call, not to the process.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("viewdb: storage fault during %s: %s", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
