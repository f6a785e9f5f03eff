package dispute

import "errors"

var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("dispute not found")
	ErrNotParty      = errors.New("caller is not a party to this dispute")
	ErrNotArbitrator = errors.New("caller is not the assigned arbitrator")
	ErrClosed        = errors.New("dispute already resolved")
)
