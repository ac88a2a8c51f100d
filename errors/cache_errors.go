package errors

import "errors"

var (
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrRemoteFetch         = errors.New("remote fetch failed")
	ErrEntryTooLarge       = errors.New("entry exceeds per-entry size cap")
	ErrStoreClosed         = errors.New("durable store is closed")
	ErrInvalidCacheData    = errors.New("invalid cache data")
)
