// Package trap owns the transition between user environments and the
// kernel: the interrupt descriptor table, the per-CPU task state and the
// dispatcher that every hardware entry stub funnels into.
package trap

import (
	"exocore/kernel"
	"exocore/kernel/cpu"
	"exocore/kernel/env"
	"exocore/kernel/kfmt"
	"exocore/kernel/sched"
	"exocore/kernel/sync"
)

// Handler processes a trap on a specific vector. Handlers for traps taken
// in kernel mode return to resume the interrupted kernel code; handlers for
// user-mode traps return to let the dispatcher resume or reschedule the
// current environment.
type Handler func(*cpu.Trapframe)

var (
	handlers [numVectors]Handler

	// syscallFn is installed by the system-call layer. It receives the
	// saved user frame and returns the value for the accumulator slot.
	syscallFn func(*cpu.Trapframe) int32

	// The following seams are overridden by tests.
	lockAcquireFn = sync.KernelLock.Acquire
	yieldFn       = sched.Yield
	runFn         = env.Run
	freeEnvFn     = env.Free
	destroyEnvFn  = env.Destroy
	currentEnvFn  = env.Current

	errNoCurrentEnv  = &kernel.Error{Module: "trap", Message: "user-mode trap with no current environment"}
	errUnhandledTrap = &kernel.Error{Module: "trap", Message: "unhandled trap in kernel mode"}
)

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular vector triggers.
func HandleInterrupt(vector Vector, handler Handler) {
	handlers[vector] = handler
}

// SetSyscallDispatcher installs the function that services the system-call
// vector. Its return value is stored into the saved accumulator register of
// the calling environment.
func SetSyscallDispatcher(fn func(*cpu.Trapframe) int32) {
	syscallFn = fn
}

// Dispatch is called by the entry stubs' common tail with interrupts
// disabled and the freshly built frame on the kernel stack. It serializes
// kernel entry through the big kernel lock, snapshots user frames into the
// current environment and routes the trap. For traps taken in user mode
// Dispatch does not return: the CPU leaves through env.Run or the
// scheduler.
func Dispatch(tf *cpu.Trapframe) {
	c := cpu.Current()

	// A CPU that was parked by the scheduler re-enters the kernel here;
	// it gave up the lock when it halted, so it must re-acquire it.
	if c.MarkStarted() == cpu.StatusHalted {
		lockAcquireFn(c.Index)
	}

	fromUser := tf.FromUserMode()
	if fromUser {
		// Trapped from user mode: serialize with the other CPUs before
		// touching any shared kernel state.
		lockAcquireFn(c.Index)

		cur := currentEnvFn()
		if cur == nil {
			panic(errNoCurrentEnv)
		}

		// An environment destroyed from another CPU is reaped on the
		// next entry that finds it current.
		if cur.Status == env.StatusDying {
			freeEnvFn(cur)
			env.SetCurrent(nil)
			yieldFn()
		}

		// Copy the stack-resident frame into the environment so the
		// kernel can context switch away; from here on tf refers to
		// the saved copy.
		cur.SavedFrame = *tf
		tf = &cur.SavedFrame
	}

	dispatchTrap(tf)

	if !fromUser {
		// The trap interrupted kernel code and was handled; resume it
		// in place.
		return
	}

	// Return to user space: resume the current environment if it is still
	// runnable on this CPU, otherwise pick another one.
	if cur := currentEnvFn(); cur != nil && cur.Status == env.StatusRunning {
		runFn(cur)
	}
	yieldFn()
}

// dispatchTrap routes a trap by vector number.
func dispatchTrap(tf *cpu.Trapframe) {
	vector := Vector(tf.Trapno)

	switch {
	case vector == PageFaultException:
		pageFaultHandler(tf)
		return
	case vector == SyscallVector && syscallFn != nil:
		tf.Regs.EAX = uint32(syscallFn(tf))
		return
	}

	if handler := handlers[vector]; handler != nil {
		handler(tf)
		return
	}

	if vector == IRQSpurious {
		// Spurious interrupts have no source to acknowledge; log and
		// keep going.
		kfmt.Printf("[trap] spurious interrupt on irq 7, eip=%x\n", tf.EIP)
		return
	}

	unexpectedTrap(tf)
}

// unexpectedTrap implements the dispatcher's default row: an unhandled trap
// in kernel mode is fatal; an unhandled trap in user mode costs the
// environment its life, never the kernel's.
func unexpectedTrap(tf *cpu.Trapframe) {
	if !tf.FromUserMode() {
		kfmt.Printf("\n[trap] unhandled trap %d in kernel mode\n", tf.Trapno)
		DumpFrame(tf, kfmt.GetOutputSink())
		panic(errUnhandledTrap)
	}

	cur := currentEnvFn()
	kfmt.Printf("[trap] unhandled trap %d from environment %x\n", tf.Trapno, uint32(cur.ID))
	DumpFrame(tf, kfmt.GetOutputSink())
	destroyEnvFn(cur)
}
