package pmm

import (
	"exocore/kernel"
	"exocore/kernel/hal/multiboot"
	"exocore/kernel/kfmt"
	"exocore/kernel/mm"
)

var (
	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
)

// BootMemAllocator implements a rudimentary physical memory allocator used to
// bootstrap the kernel before the reference-counting allocator takes over.
//
// The allocator scans the memory region list supplied by the bootloader and
// hands out frames in ascending physical address order. Allocations are
// tracked via a single counter holding the index of the last allocated
// frame; freeing individual frames is not supported; once the kernel brings
// up the reference-counting allocator the remaining free frames are handed
// over to it.
type BootMemAllocator struct {
	kernelStart, kernelEnd uintptr

	lastAllocIndex int64
}

// init records the kernel's physical footprint so that AllocFrame can skip
// over it. Printing the memory map is left to printMemoryMap.
func (alloc *BootMemAllocator) init(kernelStart, kernelEnd uintptr) {
	alloc.kernelStart = kernelStart
	alloc.kernelEnd = kernelEnd
	alloc.lastAllocIndex = -1
}

// printMemoryMap prints the list of memory regions reported by the bootloader
// together with the total amount of free memory.
func (alloc *BootMemAllocator) printMemoryMap() {
	kfmt.Printf("[boot_mem_alloc] system memory map:\n")

	var totalFree uint64
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%16x - 0x%16x], size: %d\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length)
		if region.Type == multiboot.MemAvailable {
			totalFree += region.Length
		}
		return true
	})
	kfmt.Printf("[boot_mem_alloc] free memory: %dKb\n", totalFree/1024)
}

// AllocFrame scans the system memory regions reported by the bootloader and
// reserves the next available free frame, skipping any frame that overlaps
// the kernel's own image.
func (alloc *BootMemAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	var (
		foundPageIndex                            int64 = -1
		regionStartPageIndex, regionEndPageIndex  int64
	)

	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		regionStartPageIndex = int64(((region.PhysAddress + (uint64(mm.PageSize) - 1)) &^ (uint64(mm.PageSize) - 1)) >> mm.PageShift)
		regionEndPageIndex = int64(((region.PhysAddress + region.Length) &^ (uint64(mm.PageSize) - 1)) >> mm.PageShift)

		if alloc.lastAllocIndex >= regionEndPageIndex {
			return true
		}

		candidate := regionStartPageIndex
		if alloc.lastAllocIndex >= regionStartPageIndex {
			candidate = alloc.lastAllocIndex + 1
		}

		for candidate < regionEndPageIndex && alloc.overlapsKernel(candidate) {
			candidate++
		}

		if candidate < regionEndPageIndex {
			foundPageIndex = candidate
			return false
		}

		return true
	})

	if foundPageIndex < 0 {
		return mm.InvalidFrame, errBootAllocOutOfMemory
	}

	alloc.lastAllocIndex = foundPageIndex
	return mm.Frame(foundPageIndex), nil
}

// overlapsKernel returns true if the frame with the given page index overlaps
// the loaded kernel image.
func (alloc *BootMemAllocator) overlapsKernel(pageIndex int64) bool {
	frameAddr := uintptr(pageIndex) << mm.PageShift
	return frameAddr+mm.PageSize > alloc.kernelStart && frameAddr < alloc.kernelEnd
}
