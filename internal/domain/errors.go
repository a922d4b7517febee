package domain

import "errors"

var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrNotFound              = errors.New("not found")
	ErrInvalidPayment        = errors.New("invalid payment")
	ErrAlreadySold           = errors.New("item already sold")
	ErrCustodyTransferFailed = errors.New("custody transfer failed")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrRateLimited           = errors.New("rate limited")
	ErrLockHeld              = errors.New("lock already held")
)
