package vmm

import (
	"exocore/kernel"
	"exocore/kernel/mm"
	"unsafe"
)

var (
	// The following seams are overridden by tests and are automatically
	// inlined by the compiler when building the kernel.
	incFrameRefsFn = mm.IncFrameRefs
	decFrameRefsFn = mm.DecFrameRefs
)

// AddressSpace describes a page directory together with the page tables
// hanging off it. Each environment owns exactly one address space; the
// kernel-region directory entries are shared between all of them. The
// zero value is not usable; address spaces are set up via Init or
// NewAddressSpace.
type AddressSpace struct {
	pdtFrame mm.Frame
}

// PDTFrame returns the physical frame holding the page directory.
func (as *AddressSpace) PDTFrame() mm.Frame {
	return as.pdtFrame
}

// Init sets up the page directory starting at the supplied physical
// address. If the supplied frame does not match the currently active PDT,
// then Init assumes that this is a new page directory that needs
// bootstrapping. In such a case, a temporary mapping is established so that
// Init can:
//  - call kernel.Memset to clear the frame contents
//  - setup a recursive mapping for the last directory entry to the page itself.
func (as *AddressSpace) Init(pdtFrame mm.Frame) *kernel.Error {
	as.pdtFrame = pdtFrame

	// Check active PDT physical address. If it matches the input pdt then
	// nothing more needs to be done
	activePdtAddr := activePDTFn()
	if pdtFrame.Address() == activePdtAddr {
		return nil
	}

	// Create a temporary mapping for the pdt frame so we can work on it
	pdtPage, err := mapTemporaryFn(pdtFrame)
	if err != nil {
		return err
	}

	// Clear the page contents and setup recursive mapping for the last PDT entry
	kernel.Memset(pdtPage.Address(), 0, mm.PageSize)
	lastPdtEntry := (*pageTableEntry)(unsafe.Pointer(pdtPage.Address() + (((1 << pageLevelBits[0]) - 1) << mm.PointerShift)))
	*lastPdtEntry = 0
	lastPdtEntry.SetFlags(FlagPresent | FlagRW)
	lastPdtEntry.SetFrame(pdtFrame)

	// Remove temporary mapping
	_ = unmapFn(pdtPage)

	return nil
}

// NewAddressSpace allocates and initializes the address space for a fresh
// environment: an empty user region plus the shared kernel-region directory
// entries copied from the active directory.
func NewAddressSpace() (AddressSpace, *kernel.Error) {
	var as AddressSpace

	pdtFrame, err := mm.AllocFrame()
	if err != nil {
		return as, err
	}

	if err = as.Init(pdtFrame); err != nil {
		return as, err
	}

	// All address spaces agree on the kernel region, so the directory
	// entries can be copied verbatim from whichever directory is active.
	// The kernel-region page tables are preallocated at boot and never
	// change after that point.
	pdtPage, err := mapTemporaryFn(pdtFrame)
	if err != nil {
		return as, err
	}

	firstKernelPde := pdeForAddress(mm.UTop)
	lastPde := (1 << pageLevelBits[0]) - 1 // recursive slot; set up by Init
	for pdeIndex := firstKernelPde; pdeIndex < lastPde; pdeIndex++ {
		src := (*pageTableEntry)(ptePtrFn(pdtVirtualAddr + uintptr(pdeIndex)<<mm.PointerShift))
		dst := (*pageTableEntry)(unsafe.Pointer(pdtPage.Address() + uintptr(pdeIndex)<<mm.PointerShift))
		*dst = *src
	}

	_ = unmapFn(pdtPage)

	return as, nil
}

// Activate loads this address space into the MMU and flushes the TLB.
func (as *AddressSpace) Activate() {
	switchPDTFn(as.pdtFrame.Address())
}

// Insert establishes a mapping from a virtual page to a physical frame in
// this address space, allocating any missing page table on the way. The
// frame's reference count is incremented; if the slot already held a
// mapping, the previous frame's count is decremented. Re-inserting the same
// frame at the same page (e.g. with different flags) is safe.
func (as *AddressSpace) Insert(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error

	// Raising the new frame's count before releasing the old one keeps
	// the count from transiently hitting zero when the same frame is
	// re-inserted in place.
	incFrameRefsFn(frame)

	as.withRecursiveSlot(func() {
		walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
			if pteLevel == pageLevels-1 {
				if pte.HasFlags(FlagPresent) {
					decFrameRefsFn(pte.Frame())
				}

				*pte = 0
				pte.SetFrame(frame)
				pte.SetFlags(flags | FlagPresent)
				flushTLBEntryFn(page.Address())
				return true
			}

			// Next table does not yet exist; we need to allocate a
			// physical frame for it, map it and clear its contents.
			if !pte.HasFlags(FlagPresent) {
				var newTableFrame mm.Frame
				newTableFrame, err = mm.AllocFrame()
				if err != nil {
					return false
				}

				*pte = 0
				pte.SetFrame(newTableFrame)
				pte.SetFlags(FlagPresent | FlagRW | FlagUserAccessible)

				nextTableAddr := (uintptr(unsafe.Pointer(pte)) << pageLevelBits[pteLevel+1])
				kernel.Memset(nextAddrFn(nextTableAddr), 0, mm.PageSize)
			}

			return true
		})
	})

	if err != nil {
		decFrameRefsFn(frame)
	}

	return err
}

// Lookup returns the frame and the entry flags that the supplied virtual
// page maps to in this address space, or ErrInvalidMapping if the page is
// not mapped.
func (as *AddressSpace) Lookup(page mm.Page) (mm.Frame, PageTableEntryFlag, *kernel.Error) {
	var (
		frame = mm.InvalidFrame
		flags PageTableEntryFlag
		err   *kernel.Error
	)

	as.withRecursiveSlot(func() {
		walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
			if !pte.HasFlags(FlagPresent) {
				err = ErrInvalidMapping
				return false
			}

			if pteLevel == pageLevels-1 {
				frame = pte.Frame()
				flags = pte.Flags()
			}

			return true
		})
	})

	return frame, flags, err
}

// Remove drops the mapping for the supplied virtual page and decrements the
// backing frame's reference count. Removing a page that is not mapped is a
// no-op.
func (as *AddressSpace) Remove(page mm.Page) {
	as.withRecursiveSlot(func() {
		walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
			if !pte.HasFlags(FlagPresent) {
				return false
			}

			if pteLevel == pageLevels-1 {
				decFrameRefsFn(pte.Frame())
				*pte = 0
				flushTLBEntryFn(page.Address())
			}

			return true
		})
	})
}

// Release tears down the user region of this address space: every mapped
// user frame loses one reference, every user page table and finally the
// page directory itself are returned to the frame allocator. The address
// space must not be active when Release is called.
func (as *AddressSpace) Release() {
	as.withRecursiveSlot(func() {
		lastUserPde := pdeForAddress(mm.UTop)

		for pdeIndex := 0; pdeIndex < lastUserPde; pdeIndex++ {
			pdeAddr := pdtVirtualAddr + uintptr(pdeIndex)<<mm.PointerShift
			pde := (*pageTableEntry)(ptePtrFn(pdeAddr))
			if !pde.HasFlags(FlagPresent) {
				continue
			}

			tableAddr := (pdeAddr << pageLevelBits[0])
			for pteIndex := 0; pteIndex < (1 << pageLevelBits[1]); pteIndex++ {
				pte := (*pageTableEntry)(ptePtrFn(tableAddr + uintptr(pteIndex)<<mm.PointerShift))
				if pte.HasFlags(FlagPresent) {
					decFrameRefsFn(pte.Frame())
					*pte = 0
				}
			}

			decFrameRefsFn(pde.Frame())
			*pde = 0
		}
	})

	decFrameRefsFn(as.pdtFrame)
	as.pdtFrame = mm.InvalidFrame
}

// mapInto establishes a mapping in this address space without touching
// reference counts. It is used for kernel-region mappings whose frames are
// not managed by the reference-counting allocator.
func (as *AddressSpace) mapInto(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error

	as.withRecursiveSlot(func() {
		err = mapFn(page, frame, flags)
	})

	return err
}

// withRecursiveSlot arranges for the recursive virtual addressing scheme to
// resolve against this address space for the duration of fn. If this
// address space is not the active one, the last entry of the active
// directory is temporarily pointed at this directory's frame so the walk
// helpers can reach its tables through the usual recursive addresses.
func (as *AddressSpace) withRecursiveSlot(fn func()) {
	var (
		activePdtFrame   = mm.Frame(activePDTFn() >> mm.PageShift)
		lastPdtEntryAddr uintptr
		lastPdtEntry     *pageTableEntry
	)

	if activePdtFrame != as.pdtFrame {
		lastPdtEntryAddr = activePdtFrame.Address() + (((1 << pageLevelBits[0]) - 1) << mm.PointerShift)
		lastPdtEntry = (*pageTableEntry)(unsafe.Pointer(lastPdtEntryAddr))
		lastPdtEntry.SetFrame(as.pdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	fn()

	if activePdtFrame != as.pdtFrame {
		lastPdtEntry.SetFrame(activePdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}
}
