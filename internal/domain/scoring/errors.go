package scoring

import "errors"

var (
	ErrInvalidLevel     = errors.New("invalid level")
	ErrUnknownDimension = errors.New("unknown score dimension")
)
