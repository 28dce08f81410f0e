package vmm

import (
	"exocore/kernel"
	"exocore/kernel/mm"
)

// RecoverKernelFault attempts to recover from a page fault taken while the
// CPU was executing kernel code. The only recoverable case is a write to a
// copy-on-write heap page: the page contents are cloned into a fresh frame
// which is installed in-place with RW permissions. A nil return means the
// faulting instruction can be retried.
func RecoverKernelFault(faultAddress uintptr) *kernel.Error {
	var (
		faultPage = mm.PageFromAddress(faultAddress)
		pageEntry *pageTableEntry
	)

	// Lookup entry for the page where the fault occurred
	walk(faultPage.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		nextIsPresent := pte.HasFlags(FlagPresent)

		if pteLevel == pageLevels-1 && nextIsPresent {
			pageEntry = pte
		}

		// Abort walk if the next page table entry is missing
		return nextIsPresent
	})

	// CoW is supported for RO pages with the CoW flag set
	if pageEntry == nil || pageEntry.HasFlags(FlagRW) || !pageEntry.HasFlags(FlagCopyOnWrite) {
		return errUnrecoverableFault
	}

	var (
		copy    mm.Frame
		tmpPage mm.Page
		err     *kernel.Error
	)

	if copy, err = mm.AllocFrame(); err != nil {
		return err
	} else if tmpPage, err = mapTemporaryFn(copy); err != nil {
		return err
	}

	// Copy page contents, mark as RW and remove CoW flag
	kernel.Memcopy(faultPage.Address(), tmpPage.Address(), mm.PageSize)
	_ = unmapFn(tmpPage)

	// Update mapping to point to the new frame, flag it as RW and
	// remove the CoW flag
	pageEntry.ClearFlags(FlagCopyOnWrite)
	pageEntry.SetFlags(FlagPresent | FlagRW)
	pageEntry.SetFrame(copy)
	flushTLBEntryFn(faultPage.Address())

	return nil
}

// FaultReason decodes the hardware page-fault error code into a diagnostic
// string.
func FaultReason(errorCode uint32) string {
	switch errorCode {
	case 0:
		return "read from non-present page"
	case 1:
		return "page protection violation (read)"
	case 2:
		return "write to non-present page"
	case 3:
		return "page protection violation (write)"
	case 4:
		return "page-fault in user-mode"
	case 8:
		return "page table has reserved bit set"
	case 16:
		return "instruction fetch"
	default:
		return "unknown"
	}
}
