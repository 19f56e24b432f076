package mqueue

import "errors"

var (
	ErrInvalidSlot   = errors.New("mqueue: invalid queue slot")
	ErrQueuesFull    = errors.New("mqueue: all queue slots in use")
	ErrOutOfMemory   = errors.New("mqueue: backing page allocation failed")
	ErrMessageTooBig = errors.New("mqueue: message too large ever to fit the queue")
	ErrKilled        = errors.New("mqueue: operation aborted by kill")
)
