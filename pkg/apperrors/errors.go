package apperrors

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrInvalidInput   = errors.New("invalid input")
	ErrSuperseded     = errors.New("article has been superseded")
	ErrLLMUnavailable = errors.New("language model unavailable")
)
