package escrow

import "errors"

var (
	ErrValidation              = errors.New("validation error")
	ErrForbidden               = errors.New("forbidden")
	ErrNotFound                = errors.New("escrow not found")
	ErrAlreadyExists           = errors.New("escrow already exists for booking")
	ErrInvalidStatusTransition = errors.New("operation not allowed in current escrow state")
	ErrMilestoneReleased       = errors.New("milestone already released")
	ErrNotDue                  = errors.New("auto-release is not due yet")
	ErrDisputeTimedOut         = errors.New("dispute resolution deadline has passed")
	ErrPaused                  = errors.New("platform is paused")
	ErrNotPaused               = errors.New("platform is not paused")
	ErrConservation            = errors.New("escrow balance invariant violation")
)
