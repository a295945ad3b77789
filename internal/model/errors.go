package model

import (
	"errors"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobAlreadyFailed = errors.New("job already failed")
)
