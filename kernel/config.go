package kernel

// Config bounds a Kernel's fixed-capacity tables. Defaults match the
// original source (original_source/kernel/proc.c's NPROC, SLOT) where it
// states them, and spec.md §3's design note otherwise.
type Config struct {
	// NPROC is the size of the fixed process/thread table.
	NPROC int
	// MaxPages bounds the simulated physical page allocator.
	MaxPages int64
	// DefaultPriority is the priority every new TCB starts at (lower is
	// higher priority).
	DefaultPriority int
	// DefaultSlot is the initial time-slice budget of a new TCB.
	DefaultSlot int
	// NCPU is the number of scheduler workers — the "M"s, in the teacher's
	// vocabulary — each running an independent dispatch loop.
	NCPU int
	// DispatchTick bounds how long a worker sleeps between scans of the
	// table when no Runnable task is found, mirroring the teacher's
	// poll-and-sleep scheduler loop (toysched7.go's m.run).
	DispatchTick int // nanoseconds; see WithDispatchTick
}

// Option mutates a Config under construction.
type Option func(*Config)

// WithNPROC overrides the process table size.
func WithNPROC(n int) Option { return func(c *Config) { c.NPROC = n } }

// WithMaxPages overrides the simulated physical page budget.
func WithMaxPages(n int64) Option { return func(c *Config) { c.MaxPages = n } }

// WithNCPU overrides the number of scheduler workers.
func WithNCPU(n int) Option { return func(c *Config) { c.NCPU = n } }

// WithDispatchTick overrides the idle poll interval, in nanoseconds.
func WithDispatchTick(ns int) Option { return func(c *Config) { c.DispatchTick = ns } }

// DefaultConfig returns the configuration new Kernels use absent overrides.
func DefaultConfig() Config {
	return Config{
		NPROC:           64,
		MaxPages:        4096,
		DefaultPriority: 10,
		DefaultSlot:     1,
		NCPU:            2,
		DispatchTick:    2_000_000, // 2ms
	}
}

func buildConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
