package shm

// MaxKeys is the fixed number of shared-memory key slots (spec.md §3:
// "one per key slot (0..7)").
const MaxKeys = 8

// MaxShmPgnum bounds how many pages one key slot may span, matching
// original_source/kernel/sharemem.c's MAX_SHM_PGNUM.
const MaxShmPgnum = 4
