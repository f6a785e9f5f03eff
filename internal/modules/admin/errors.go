package admin

import "errors"

var (
	ErrValidation   = errors.New("validation error")
	ErrRateTooHigh  = errors.New("cancellation fee rate exceeds the cap")
	ErrUserNotFound = errors.New("user not found")
)
