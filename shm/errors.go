package shm

import "errors"

var (
	ErrInvalidKey  = errors.New("shm: key out of range")
	ErrInvalidNum  = errors.New("shm: page count out of range")
	ErrOutOfMemory = errors.New("shm: backing page allocation failed")
)
