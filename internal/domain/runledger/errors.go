package runledger

import "errors"

var (
	ErrRunNotFound     = errors.New("run not found")
	ErrRunAlreadyEnded = errors.New("run already ended")
)
