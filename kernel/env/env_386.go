package env

import (
	"exocore/kernel/cpu"
	"exocore/kernel/sync"
)

var (
	// The following seams are overridden by tests; the kernel build
	// resolves them to the real context-switch primitives.
	kernelLockReleaseFn = sync.KernelLock.Release
	popTrapframeFn      = popTrapframe
)

// popTrapframe restores the full register state captured in the supplied
// trap frame and resumes execution at its saved instruction pointer via
// IRET. It never returns.
func popTrapframe(tf *cpu.Trapframe)
