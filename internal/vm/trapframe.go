package vm

// TrapFrame is the simulated saved user register set spec.md §3 assigns one
// per TCB. toykernel has no real trap path, so only SP is actually driven by
// the core: Clone sets it to the caller-supplied stack before starting the
// cloned thread, mirroring original_source/kernel/proc.c's clone() seeding
// era_sp. PC and Arg are carried for shape parity with the source's trapframe
// but are never read or written — Go has no register file to save a return
// address into, and Body's arg flows through as a closure's own captured
// value instead.
type TrapFrame struct {
	SP  uintptr // user stack pointer
	PC  uintptr // saved program counter / return address (era)
	Arg uintptr // argument register (a0)
}
