// Package syscall implements the primitives user environments invoke to
// create environments, manipulate address-space mappings, register upcalls,
// yield and exchange messages. The dispatcher is installed into the trap
// layer at boot; results travel back to user space in the saved accumulator
// register.
package syscall

import (
	"exocore/kernel"
	"exocore/kernel/cpu"
	"exocore/kernel/env"
	"exocore/kernel/hal"
	"exocore/kernel/kfmt"
	"exocore/kernel/mm"
	"exocore/kernel/mm/vmm"
	"exocore/kernel/sched"
	"exocore/kernel/trap"
	"reflect"
	"unsafe"
)

// Num identifies a system call. The selector travels in the accumulator
// register; the five argument registers follow in the fixed order EDX, ECX,
// EBX, EDI, ESI.
type Num uint32

const (
	SysCputs Num = iota
	SysCgetc
	SysGetenvid
	SysEnvDestroy
	SysPageAlloc
	SysPageMap
	SysPageUnmap
	SysExofork
	SysEnvSetStatus
	SysEnvSetTrapframe
	SysEnvSetPgfaultUpcall
	SysYield
	SysIPCTrySend
	SysIPCRecv
)

var (
	// The following seams are overridden by tests.
	currentFn          = env.Current
	lookupFn           = env.Lookup
	allocEnvFn         = env.Alloc
	destroyEnvFn       = env.Destroy
	checkMemoryFn      = env.CheckMemory
	yieldFn            = sched.Yield
	allocZeroedFrameFn = mm.AllocZeroedFrame
	decFrameRefsFn     = mm.DecFrameRefs
	insertFn           = (*vmm.AddressSpace).Insert
	removeFn           = (*vmm.AddressSpace).Remove
	lookupMappingFn    = (*vmm.AddressSpace).Lookup
	consoleReadFn      = consoleRead
	copyTrapframeFn    = copyTrapframe
)

// Install registers the system-call dispatcher with the trap layer.
func Install() {
	trap.SetSyscallDispatcher(Dispatch)
}

// Dispatch decodes the selector and argument registers from the saved user
// frame and invokes the requested primitive. The returned value lands in
// the caller's accumulator: non-negative on success, a negated error code
// on failure.
func Dispatch(tf *cpu.Trapframe) int32 {
	var (
		a1 = tf.Regs.EDX
		a2 = tf.Regs.ECX
		a3 = tf.Regs.EBX
		a4 = tf.Regs.EDI
		a5 = tf.Regs.ESI
	)

	switch Num(tf.Regs.EAX) {
	case SysCputs:
		return cputs(uintptr(a1), uintptr(a2))
	case SysCgetc:
		return cgetc()
	case SysGetenvid:
		return getenvid()
	case SysEnvDestroy:
		return envDestroy(env.ID(a1))
	case SysPageAlloc:
		return pageAlloc(env.ID(a1), uintptr(a2), vmm.PageTableEntryFlag(a3))
	case SysPageMap:
		return pageMap(env.ID(a1), uintptr(a2), env.ID(a3), uintptr(a4), vmm.PageTableEntryFlag(a5))
	case SysPageUnmap:
		return pageUnmap(env.ID(a1), uintptr(a2))
	case SysExofork:
		return exofork()
	case SysEnvSetStatus:
		return envSetStatus(env.ID(a1), a2)
	case SysEnvSetTrapframe:
		return envSetTrapframe(env.ID(a1), uintptr(a2))
	case SysEnvSetPgfaultUpcall:
		return envSetPgfaultUpcall(env.ID(a1), uintptr(a2))
	case SysYield:
		yieldFn()
		return 0
	case SysIPCTrySend:
		return ipcTrySend(env.ID(a1), a2, uintptr(a3), vmm.PageTableEntryFlag(a4))
	case SysIPCRecv:
		return ipcRecv(uintptr(a1))
	}

	return kernel.ErrNoSys.Code()
}

// cputs prints the string at [buf, buf+length) to the console. The caller
// must hold user read permission on the whole range; an environment passing
// a bogus buffer is destroyed rather than given an error to retry.
func cputs(buf, length uintptr) int32 {
	cur := currentFn()

	if errno := checkMemoryFn(cur, buf, length, 0); errno != 0 {
		destroyEnvFn(cur)
		return errno.Code()
	}

	str := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: buf,
		Len:  int(length),
		Cap:  int(length),
	}))
	kfmt.Fprintf(kfmt.GetOutputSink(), "%s", str)

	return 0
}

// cgetc reads one pending character from the console without blocking. It
// returns zero when no input is pending.
func cgetc() int32 {
	return int32(consoleReadFn())
}

// getenvid returns the caller's environment id.
func getenvid() int32 {
	return int32(currentFn().ID)
}

// envDestroy destroys the target environment. Destroying the caller does
// not return on this path.
func envDestroy(id env.ID) int32 {
	e, errno := lookupFn(id, true)
	if errno != 0 {
		return errno.Code()
	}

	destroyEnvFn(e)
	return 0
}

// exofork creates a blank child environment. The child's saved frame is a
// copy of the caller's with the accumulator forced to zero, so the child
// observes a zero return from the fork while the parent receives the
// child's id.
func exofork() int32 {
	cur := currentFn()

	child, errno := allocEnvFn(cur.ID)
	if errno != 0 {
		return errno.Code()
	}

	child.SavedFrame = cur.SavedFrame
	child.SavedFrame.Regs.EAX = 0

	return int32(child.ID)
}

// envSetStatus moves the target between the runnable and not-runnable
// states. All other status values belong to the kernel.
func envSetStatus(id env.ID, status uint32) int32 {
	if env.Status(status) != env.StatusRunnable && env.Status(status) != env.StatusNotRunnable {
		return kernel.ErrInval.Code()
	}

	e, errno := lookupFn(id, true)
	if errno != 0 {
		return errno.Code()
	}

	e.Status = env.Status(status)
	return 0
}

// envSetTrapframe loads a complete register state into the target. The
// segment selectors, the interrupt-enable flag and the I/O privilege level
// are overridden unconditionally: whatever the caller supplies, the target
// resumes in user mode with interrupts on and no port access.
func envSetTrapframe(id env.ID, tfVA uintptr) int32 {
	e, errno := lookupFn(id, true)
	if errno != 0 {
		return errno.Code()
	}

	if errno := checkMemoryFn(e, tfVA, unsafe.Sizeof(cpu.Trapframe{}), 0); errno != 0 {
		return kernel.ErrInval.Code()
	}

	copyTrapframeFn(&e.SavedFrame, tfVA)

	e.SavedFrame.DS = uint16(cpu.SelectorUserDS)
	e.SavedFrame.ES = uint16(cpu.SelectorUserDS)
	e.SavedFrame.SS = uint16(cpu.SelectorUserDS)
	e.SavedFrame.CS = uint16(cpu.SelectorUserCS)
	e.SavedFrame.EFlags |= cpu.FlagsIF
	e.SavedFrame.EFlags &^= cpu.FlagsIOPLMask

	return 0
}

// envSetPgfaultUpcall registers the target's page-fault entry point. The
// pointer is stored without being dereferenced; it is validated against the
// exception stack only when a fault is actually reflected.
func envSetPgfaultUpcall(id env.ID, fn uintptr) int32 {
	e, errno := lookupFn(id, true)
	if errno != 0 {
		return errno.Code()
	}

	e.PgfaultUpcall = fn
	return 0
}

// pageAlloc installs a zeroed frame at va in the target's address space.
func pageAlloc(id env.ID, va uintptr, perm vmm.PageTableEntryFlag) int32 {
	if errno := checkUserVA(va); errno != 0 {
		return errno.Code()
	}

	if errno := checkMapPerm(perm); errno != 0 {
		return errno.Code()
	}

	e, errno := lookupFn(id, true)
	if errno != 0 {
		return errno.Code()
	}

	frame, err := allocZeroedFrameFn()
	if err != nil {
		return kernel.ErrNoMem.Code()
	}

	if err := insertFn(&e.AS, mm.PageFromAddress(va), frame, perm); err != nil {
		decFrameRefsFn(frame)
		return kernel.ErrNoMem.Code()
	}

	// The mapping holds the only reference now; drop the allocation one.
	decFrameRefsFn(frame)
	return 0
}

// pageMap installs the frame backing srcVA in the source environment at
// dstVA in the destination environment. The two environments then share the
// frame. A writable destination mapping requires a writable source mapping.
func pageMap(srcID env.ID, srcVA uintptr, dstID env.ID, dstVA uintptr, perm vmm.PageTableEntryFlag) int32 {
	if errno := checkUserVA(srcVA); errno != 0 {
		return errno.Code()
	}

	if errno := checkUserVA(dstVA); errno != 0 {
		return errno.Code()
	}

	if errno := checkMapPerm(perm); errno != 0 {
		return errno.Code()
	}

	src, errno := lookupFn(srcID, true)
	if errno != 0 {
		return errno.Code()
	}

	dst, errno := lookupFn(dstID, true)
	if errno != 0 {
		return errno.Code()
	}

	frame, srcFlags, err := lookupMappingFn(&src.AS, mm.PageFromAddress(srcVA))
	if err != nil {
		return kernel.ErrInval.Code()
	}

	if perm&vmm.FlagRW != 0 && srcFlags&vmm.FlagRW == 0 {
		return kernel.ErrInval.Code()
	}

	if err := insertFn(&dst.AS, mm.PageFromAddress(dstVA), frame, perm); err != nil {
		return kernel.ErrNoMem.Code()
	}

	return 0
}

// pageUnmap drops the mapping at va in the target's address space.
// Unmapping an unmapped address silently succeeds.
func pageUnmap(id env.ID, va uintptr) int32 {
	if errno := checkUserVA(va); errno != 0 {
		return errno.Code()
	}

	e, errno := lookupFn(id, true)
	if errno != 0 {
		return errno.Code()
	}

	removeFn(&e.AS, mm.PageFromAddress(va))
	return 0
}

// checkUserVA rejects addresses that are not page-aligned or that reach
// into the kernel region.
func checkUserVA(va uintptr) kernel.Errno {
	if va >= mm.UTop || va&(mm.PageSize-1) != 0 {
		return kernel.ErrInval
	}

	return 0
}

// checkMapPerm validates a user-supplied mapping permission word: user and
// present must be set and no bit outside the permitted mask may appear.
func checkMapPerm(perm vmm.PageTableEntryFlag) kernel.Errno {
	required := vmm.FlagPresent | vmm.FlagUserAccessible
	if perm&required != required || perm&^vmm.UserFlagMask != 0 {
		return kernel.ErrInval
	}

	return 0
}

// consoleRead pulls one byte from the active terminal's input queue.
func consoleRead() byte {
	if t := hal.ActiveTTY(); t != nil {
		return t.ReadByte()
	}

	return 0
}

// copyTrapframe loads the register state at srcVA into dst. The source
// range has already been validated.
func copyTrapframe(dst *cpu.Trapframe, srcVA uintptr) {
	*dst = *(*cpu.Trapframe)(unsafe.Pointer(srcVA))
}
