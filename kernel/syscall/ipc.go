package syscall

import (
	"exocore/kernel"
	"exocore/kernel/env"
	"exocore/kernel/mm"
	"exocore/kernel/mm/vmm"
)

// ipcTrySend delivers a value (and optionally a page mapping) to an
// environment blocked in ipcRecv. Any environment may send to any other:
// the parent-or-self permission check is deliberately skipped so unrelated
// environments can rendezvous. The send never blocks; if the destination is
// not waiting the caller gets ErrIPCNotRecv back and is expected to retry.
//
// Delivery is first-send-wins: the winning sender clears the destination's
// receive flag while holding the kernel lock, so a second sender arriving
// before the receiver is re-dispatched observes the flag already cleared.
func ipcTrySend(dstID env.ID, value uint32, srcVA uintptr, perm vmm.PageTableEntryFlag) int32 {
	cur := currentFn()

	dst, errno := lookupFn(dstID, false)
	if errno != 0 {
		return errno.Code()
	}

	if !dst.IPCRecving {
		return kernel.ErrIPCNotRecv.Code()
	}

	// A page rides along only when both sides asked for one: the receiver
	// advertised a destination below UTop and the sender supplied a
	// source below UTop.
	var transferred vmm.PageTableEntryFlag
	if dst.IPCDstVA < mm.UTop && srcVA < mm.UTop {
		if srcVA&(mm.PageSize-1) != 0 {
			return kernel.ErrInval.Code()
		}

		if errno := checkMapPerm(perm); errno != 0 {
			return errno.Code()
		}

		frame, srcFlags, err := lookupMappingFn(&cur.AS, mm.PageFromAddress(srcVA))
		if err != nil {
			return kernel.ErrInval.Code()
		}

		if perm&vmm.FlagRW != 0 && srcFlags&vmm.FlagRW == 0 {
			return kernel.ErrInval.Code()
		}

		if err := insertFn(&dst.AS, mm.PageFromAddress(dst.IPCDstVA), frame, perm); err != nil {
			return kernel.ErrNoMem.Code()
		}

		transferred = perm
	}

	dst.IPCRecving = false
	dst.IPCFrom = cur.ID
	dst.IPCValue = value
	dst.IPCPerm = transferred

	// The receiver resumes out of its recv syscall with a zero result.
	dst.SavedFrame.Regs.EAX = 0
	dst.Status = env.StatusRunnable

	return 0
}

// ipcRecv blocks the caller until another environment sends to it. When
// dstVA is below UTop the caller offers that page slot for an incoming
// mapping. The syscall does not return here: the caller is parked
// not-runnable and the winning sender writes the result registers on its
// behalf.
func ipcRecv(dstVA uintptr) int32 {
	if dstVA < mm.UTop && dstVA&(mm.PageSize-1) != 0 {
		return kernel.ErrInval.Code()
	}

	cur := currentFn()
	cur.IPCRecving = true
	cur.IPCDstVA = dstVA
	cur.Status = env.StatusNotRunnable

	yieldFn()
	return 0
}
