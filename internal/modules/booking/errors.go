package booking

import "errors"

var (
	ErrValidation              = errors.New("validation error")
	ErrForbidden               = errors.New("forbidden")
	ErrNotFound                = errors.New("booking not found")
	ErrProviderInactive        = errors.New("provider is not active")
	ErrAssetNotSupported       = errors.New("asset is not supported")
	ErrScheduleConflict        = errors.New("time slot conflicts with an existing booking")
	ErrInvalidStatusTransition = errors.New("operation not allowed in current booking state")
	ErrConfirmWindowExpired    = errors.New("confirmation window has passed")
	ErrNotExpired              = errors.New("confirmation window has not passed yet")
	ErrTooEarly                = errors.New("booking has not started yet")
	ErrPaused                  = errors.New("platform is paused")
)
