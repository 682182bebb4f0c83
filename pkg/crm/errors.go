package crm

import (
	"fmt"

	"github.com/dealflow/dealflow/pkg/store"
)

var (
	ErrNotFound        = store.ErrNotFound
	ErrUnknownRelation = store.ErrUnknownRelation
	ErrConflict        = store.ErrConflict
)

// ValidationError reports input that was rejected before touching storage.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
