package store

import "errors"

var (
	ErrNotFound        = errors.New("record not found")
	ErrUnknownRelation = errors.New("unknown relation")
	ErrConflict        = errors.New("conflicts with existing data")
)

// Page is a skip/take window. A zero Limit means no limit.
type Page struct {
	Limit  int
	Offset int
}
