package service

import "errors"

var (
	ErrValidation = errors.New("invalid input")
	ErrForbidden  = errors.New("actor not allowed")
)
