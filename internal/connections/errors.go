package connections

import "errors"

var (
	ErrNotFound     = errors.New("mail connection not found")
	ErrInvalidInput = errors.New("invalid mail connection")
)
