package errors

import "errors"

var (
	ErrNoNextPage     = errors.New("no next page")
	ErrNoPrevPage     = errors.New("no previous page")
	ErrPageOutOfRange = errors.New("page out of range")
)
