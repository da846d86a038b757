package model

import "errors"

var (
	ErrInvalidState    = errors.New("invalid transcript state")
	ErrInvalidRole     = errors.New("invalid role")
	ErrInvalidLanguage = errors.New("invalid language tag")
	ErrInvalidPlan     = errors.New("invalid plan")
	ErrUnknownMessage  = errors.New("unknown message")
)
