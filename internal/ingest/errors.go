package ingest

import (
	"errors"
	"fmt"

	"commodity-tracker/internal/store"
)

// Error kinds reported on batch failures.
const (
	ErrorKindValidation = "validation"
	ErrorKindStorage    = "storage"
	ErrorKindConflict   = "conflict"
	ErrorKindCanceled   = "canceled"
)

// ValidationError marks a single malformed record. It is scoped to that
// record and never aborts the batch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record field %q: %s", e.Field, e.Reason)
}

// errorKind maps a record-processing error onto the failure taxonomy.
func errorKind(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ErrorKindValidation
	}
	if errors.Is(err, store.ErrConflict) {
		return ErrorKindConflict
	}
	if errors.Is(err, errCanceled) {
		return ErrorKindCanceled
	}
	return ErrorKindStorage
}

var errCanceled = errors.New("batch canceled before record was processed")
