package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNoLiquidity   = errors.New("no usable venue quotes")
	ErrOrderRejected = errors.New("order rejected by venue")
	ErrOpenPosition  = errors.New("sell leg failed after buy leg filled")
	ErrSigningFailed = errors.New("signing failed")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")
)
