package apperr

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrMalformedDocument = errors.New("malformed document")
	ErrEmptyBody         = errors.New("empty body")
	ErrNoSlot            = errors.New("no slot found within horizon")
)
