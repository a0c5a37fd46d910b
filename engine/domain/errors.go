package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine.
var (
	// ErrNotFound marks an absent blob, snapshot, or document. Callers treat
	// a missing index snapshot as "empty index" on first run.
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch marks a vector whose length does not match the
	// collection's configured dimensionality. Fatal configuration error.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNoEmbeddings marks an embedding call that produced no vectors.
	ErrNoEmbeddings = errors.New("embedding service returned no vectors")
)

// RecordError wraps a per-record failure with the record's identity so the
// batch can continue while the failure stays attributable.
type RecordError struct {
	FileName string
	Wrapped  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s: %s", e.FileName, e.Wrapped)
}

func (e *RecordError) Unwrap() error { return e.Wrapped }
