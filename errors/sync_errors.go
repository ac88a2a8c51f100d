package errors

import "errors"

var (
	ErrOperationNotFound    = errors.New("sync operation not found")
	ErrOperationNotPending  = errors.New("sync operation is not pending")
	ErrOperationNotFailed   = errors.New("sync operation is not failed")
	ErrInvalidOperationData = errors.New("invalid sync operation data")
	ErrNoExecutor           = errors.New("no sync executor configured")
)
