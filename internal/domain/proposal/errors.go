package proposal

import "errors"

var (
	ErrUnauthorized           = errors.New("caller is not a party to this proposal")
	ErrInvalidTransition      = errors.New("action is not available")
	ErrConcurrentModification = errors.New("proposal was modified concurrently")
	ErrValidation             = errors.New("invalid payload")
	ErrUnknownStatus          = errors.New("unknown proposal status")
	ErrNotFound               = errors.New("proposal not found")
	ErrMeetingNotFound        = errors.New("virtual meeting not found")
)
