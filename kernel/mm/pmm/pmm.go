package pmm

import (
	"exocore/kernel"
	"exocore/kernel/mm"
)

var (
	// bootMemAllocator is the page allocator used when the kernel boots.
	// It is used to bootstrap the reference-counting allocator which is
	// used for all page allocations while the kernel runs.
	bootMemAllocator BootMemAllocator

	// refAllocator is the standard allocator used by the kernel. User
	// page mappings share frames by raising their reference counts.
	refAllocator RefCountAllocator
)

// Init sets up the kernel physical memory allocation sub-system.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	bootMemAllocator.init(kernelStart, kernelEnd)
	bootMemAllocator.printMemoryMap()
	mm.SetFrameAllocator(earlyAllocFrame)

	// Using the bootMemAllocator bootstrap the refcount allocator
	if err := refAllocator.init(); err != nil {
		return err
	}
	mm.SetFrameAllocator(refAllocFrame)
	mm.SetFrameManager(&refAllocator)

	return nil
}

func earlyAllocFrame() (mm.Frame, *kernel.Error) {
	return bootMemAllocator.AllocFrame()
}

func refAllocFrame() (mm.Frame, *kernel.Error) {
	return refAllocator.AllocFrame()
}
