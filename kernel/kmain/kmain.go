// Package kmain contains the kernel boot sequence. The assembly bootstrap
// transfers control to Kmain after switching to protected mode and setting
// up a minimal GDT and stack.
package kmain

import (
	"exocore/device/apic"
	"exocore/kernel"

	// Pull in the device driver packages so their probes register with
	// the driver list walked by hal.DetectHardware.
	_ "exocore/device/acpi"
	_ "exocore/device/kbd"
	_ "exocore/device/tty"
	_ "exocore/device/video/console"
	"exocore/kernel/cpu"
	"exocore/kernel/env"
	"exocore/kernel/goruntime"
	"exocore/kernel/hal"
	"exocore/kernel/hal/multiboot"
	"exocore/kernel/mm/pmm"
	"exocore/kernel/mm/vmm"
	"exocore/kernel/monitor"
	"exocore/kernel/sched"
	"exocore/kernel/syscall"
	"exocore/kernel/sync"
	"exocore/kernel/trap"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// Kmain is the only Go entrypoint invoked by the assembly bootstrap. It
// bootstraps memory management and the Go runtime, probes the hardware,
// wires the trap and system-call layers and hands the bootstrap processor
// to the scheduler. Kmain must never return.
//
// Kmain is invoked with paging enabled, a provisional identity mapping in
// place and interrupts disabled.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd, kernelPageOffset uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	var err *kernel.Error
	if err = pmm.Init(kernelStart, kernelEnd); err != nil {
		panic(err)
	} else if err = vmm.Init(kernelPageOffset); err != nil {
		panic(err)
	} else if err = goruntime.Init(); err != nil {
		panic(err)
	}

	// Probing brings up the console path first, then ACPI (sizing the
	// per-CPU records from the MADT), the local APIC and the keyboard.
	hal.DetectHardware()

	trap.Init()
	trap.InitCPU()

	env.Init()
	env.SetScheduler(sched.Yield)
	syscall.Install()

	trap.HandleInterrupt(trap.Breakpoint, monitor.Enter)
	trap.HandleInterrupt(trap.Debug, monitor.Enter)
	trap.HandleInterrupt(trap.IRQTimer, onClockTick)

	// The bootstrap processor enters the kernel proper: take the lock the
	// way any entry from the halted state would and let the scheduler run
	// whatever is runnable (or park until the first interrupt).
	cpu.Current().MarkStarted()
	sync.KernelLock.Acquire(cpu.Current().Index)
	sched.Yield()

	panic(errKmainReturned)
}

// InitAP performs the per-processor bring-up for an application processor:
// it binds the CPU to its kernel stack and task state, loads the shared IDT
// and enters the scheduler. Invoked by the assembly trampoline that starts
// secondary processors.
func InitAP() {
	trap.InitCPU()

	c := cpu.Current()
	if c.MarkStarted() == cpu.StatusHalted {
		sync.KernelLock.Acquire(c.Index)
	}

	sched.Yield()
}

// onClockTick services the periodic APIC timer: acknowledge the interrupt
// and let the scheduler pick the next environment. It does not return to
// the dispatcher on the timer path.
func onClockTick(_ *cpu.Trapframe) {
	apic.EOI()
	sched.Yield()
}
