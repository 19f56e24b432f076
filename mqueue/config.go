package mqueue

// MQMAX bounds the number of simultaneously live message-queue keys. The
// filtered original source references MQMAX from a param.h this pack does
// not include; 16 is a chosen default, a quarter of the kernel's default
// NPROC (64).
const MQMAX = 16

// nodeStride is the fixed per-message header size: every node (including
// the zero-sized sentinel) costs exactly this many bytes of queue capacity
// before its payload, spec.md §3's "32-byte header" / §8's "size+32"
// accounting.
const nodeStride = 32

// sentinelCost is the curBytes a freshly created queue starts at (spec.md
// §3: "cur-bytes = 16 on creation"), independent of nodeStride — the
// original source bills the sentinel at a flat 16 regardless of its actual
// on-page footprint, and the test-facing invariant in spec.md §8 is stated
// against that constant, so toykernel preserves it exactly rather than
// reconciling the two numbers.
const sentinelCost = 16
