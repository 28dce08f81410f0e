// Package sched implements the round-robin environment scheduler. The big
// kernel lock is released in env.Run, which the scheduler and the trap
// dispatcher call to return to user mode, and in the scheduler's halt path.
package sched

import (
	"exocore/kernel/cpu"
	"exocore/kernel/env"
	"exocore/kernel/sync"
)

var (
	// The following seams are overridden by tests.
	runFn           = env.Run
	haltFn          = halt
	currentFn       = env.Current
	lockReleaseFn   = sync.KernelLock.Release
	markHaltedFn    = func() { cpu.Current().MarkHalted() }
	enableAndHaltFn = enableInterruptsAndHalt
)

// Yield selects the next runnable environment and dispatches it. The scan
// is circular and starts just past the environment that ran last on this
// CPU, so every runnable environment gets a turn. If nothing else is
// runnable the current environment is resumed; with nothing to run at all
// the CPU halts until the next interrupt. Yield does not return.
func Yield() {
	var startSlot int

	cur := currentFn()
	if cur != nil {
		startSlot = env.Slot(cur.ID) + 1
	}

	for i := 0; i < env.NumEnvs; i++ {
		e := env.At((startSlot + i) % env.NumEnvs)
		if e.Status == env.StatusRunnable {
			runFn(e)
		}
	}

	if cur != nil && cur.Status == env.StatusRunning {
		runFn(cur)
	}

	haltFn()
}

// halt parks the calling CPU until an interrupt (e.g. the clock tick or an
// IPC send from another CPU) makes an environment runnable again. The big
// kernel lock is dropped first so other CPUs can enter the kernel.
func halt() {
	env.SetCurrent(nil)
	markHaltedFn()
	lockReleaseFn()
	enableAndHaltFn()
}

// enableInterruptsAndHalt re-enables interrupts and stops instruction
// execution. The next trap restarts the scheduling loop from the trap
// dispatcher, so there is nothing to resume behind the halt.
func enableInterruptsAndHalt() {
	for {
		cpu.EnableInterrupts()
		cpu.Halt()
	}
}
