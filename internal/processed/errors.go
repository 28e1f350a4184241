package processed

import "errors"

var (
	// ErrAlreadyProcessed is returned when the message already has a record. Callers
	// treat it as success.
	ErrAlreadyProcessed = errors.New("message already processed")
	ErrInvalidInput     = errors.New("invalid processed message record")
)
