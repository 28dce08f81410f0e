package trap

import (
	"exocore/kernel/cpu"
	"exocore/kernel/env"
	"exocore/kernel/kfmt"
	"exocore/kernel/mm"
	"exocore/kernel/mm/vmm"
	"unsafe"
)

var (
	// The following seams are overridden by tests.
	readCR2Fn            = cpu.ReadCR2
	recoverKernelFaultFn = vmm.RecoverKernelFault
	checkMemoryFn        = env.CheckMemory
	writeUserTrapframeFn = writeUserTrapframe
)

// pageFaultHandler routes page faults. Kernel-mode faults are either
// recovered (copy-on-write heap pages) or fatal. User-mode faults are
// reflected back to the faulting environment on its exception stack.
func pageFaultHandler(tf *cpu.Trapframe) {
	faultVA := uintptr(readCR2Fn())

	if !tf.FromUserMode() {
		if err := recoverKernelFaultFn(faultVA); err != nil {
			kfmt.Printf("\n[trap] page fault in kernel mode while accessing address: 0x%8x\n", faultVA)
			kfmt.Printf("Reason: %s\n\n", vmm.FaultReason(tf.Err))
			DumpFrame(tf, kfmt.GetOutputSink())
			panic(err)
		}
		return
	}

	reflectPageFault(currentEnvFn(), faultVA, tf)
}

// reflectPageFault delivers a user-mode page fault to the environment's
// registered upcall on its exception stack. When the fault happened while
// already running on the exception stack, the new frame is pushed below the
// old one with a single scratch word in between; the user-mode return
// trampoline needs that word to restore the instruction pointer atomically.
// Environments with no upcall, or whose exception stack is missing or
// exhausted, are destroyed.
func reflectPageFault(e *env.Env, faultVA uintptr, tf *cpu.Trapframe) {
	if e.PgfaultUpcall == 0 {
		kfmt.Printf("[%x] user fault va %x ip %x\n", uint32(e.ID), faultVA, tf.EIP)
		DumpFrame(tf, kfmt.GetOutputSink())
		destroyEnvFn(e)
		return
	}

	utfSize := unsafe.Sizeof(cpu.UserTrapframe{})

	var landing uintptr
	if esp := uintptr(tf.ESP); esp >= mm.UXStackTop-mm.PageSize && esp < mm.UXStackTop {
		// Recursive fault: already on the exception stack.
		landing = esp - 4 - utfSize
	} else {
		landing = mm.UXStackTop - utfSize
	}

	if errno := checkMemoryFn(e, landing, utfSize, vmm.FlagRW); errno != 0 {
		kfmt.Printf("[%x] user fault va %x ip %x (bad exception stack)\n", uint32(e.ID), faultVA, tf.EIP)
		destroyEnvFn(e)
		return
	}

	utf := cpu.UserTrapframe{
		FaultVA: uint32(faultVA),
		Err:     tf.Err,
		Regs:    tf.Regs,
		EIP:     tf.EIP,
		EFlags:  tf.EFlags,
		ESP:     tf.ESP,
	}
	writeUserTrapframeFn(landing, &utf)

	// Resume in the upcall with the stack pointer at the frame it receives.
	tf.ESP = uint32(landing)
	tf.EIP = uint32(e.PgfaultUpcall)
}

// writeUserTrapframe copies the record onto the exception stack of the
// active address space.
func writeUserTrapframe(dst uintptr, utf *cpu.UserTrapframe) {
	*(*cpu.UserTrapframe)(unsafe.Pointer(dst)) = *utf
}
