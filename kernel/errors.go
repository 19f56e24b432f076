package kernel

import "errors"

// Sentinel errors covering spec.md §7's taxonomy. Entry points return them
// directly, alongside -1 where the call also returns a pid or tid (Fork,
// Clone, Join, Wait).
var (
	ErrNoFreeProc    = errors.New("kernel: no free process slot")
	ErrOutOfMemory   = errors.New("kernel: out of memory")
	ErrNoChild       = errors.New("kernel: no such child")
	ErrNoThreadChild = errors.New("kernel: no such thread child")
	ErrKilled        = errors.New("kernel: operation aborted by kill")
	ErrNotFound      = errors.New("kernel: no process with that pid")
	ErrInvalidArg    = errors.New("kernel: argument out of range")
	ErrCopyFault     = errors.New("kernel: user copy fault")
)
