package cart

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidQuantity  = errors.New("quantity must be between 1 and 2147483647")
	ErrInvalidSelection = errors.New("sub_product_id is required")
	ErrNotFound         = errors.New("line item not found")

	// ErrStorageUnavailable means the backing storage could not be opened or reached.
	ErrStorageUnavailable = errors.New("cart storage unavailable")
	// ErrTransientIO covers any other storage failure during a transaction.
	ErrTransientIO = errors.New("cart storage i/o failure")
)

// StorageError wraps a backend failure with the operation that hit it.
// Kind is ErrStorageUnavailable or ErrTransientIO.
type StorageError struct {
	Op   string
	Kind error
	Err  error
}

func (e *StorageError) Error() string {
	if errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("cart %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cart %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Unavailable marks err as a storage-unavailable failure. Backends use it for
// connection and open errors.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// classify turns a backend error into the store's error taxonomy.
// Domain errors and context cancellation pass through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var se *StorageError
	switch {
	case errors.As(err, &se):
		return err
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidSelection),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrStorageUnavailable):
		return &StorageError{Op: op, Kind: ErrStorageUnavailable, Err: err}
	default:
		return &StorageError{Op: op, Kind: ErrTransientIO, Err: err}
	}
}
