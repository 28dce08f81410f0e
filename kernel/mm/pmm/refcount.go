package pmm

import (
	"exocore/kernel"
	"exocore/kernel/hal/multiboot"
	"exocore/kernel/kfmt"
	"exocore/kernel/mm"
	"exocore/kernel/mm/vmm"
)

var (
	errRefAllocOutOfMemory = &kernel.Error{Module: "ref_alloc", Message: "out of memory"}

	// The following functions are mocked by the allocator tests.
	mapTemporaryFn = vmm.MapTemporary
	unmapFn        = vmm.Unmap
	memsetFn       = kernel.Memset
)

// reservedFrame marks a tracked frame that must never be handed out (frames
// inside bootloader-reported holes or frames owned by the boot allocator).
const reservedFrame = ^uint16(0)

// RefCountAllocator implements a physical frame allocator that tracks a
// reference count for every frame under kernel management. A frame is owned
// either by the free list (count zero) or by one or more address-space
// mappings; it returns to the free list when its count drops back to zero.
//
// The count slice is allocated before this allocator becomes the
// system-wide default, so RefCountAllocator never needs to allocate memory
// for its own bookkeeping after init returns.
type RefCountAllocator struct {
	startFrame mm.Frame
	frameCount uint32

	freeCount uint32
	nextScan  uint32

	counts []uint16
}

// init scans the reported memory regions to determine the frame range the
// allocator needs to track, reserves the count slice and re-reserves the
// frames already handed out by the boot allocator.
func (alloc *RefCountAllocator) init() *kernel.Error {
	var minFrame, maxFrame mm.Frame = mm.InvalidFrame, 0

	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		start := mm.FrameFromAddress(uintptr(region.PhysAddress))
		end := mm.FrameFromAddress(uintptr(region.PhysAddress + region.Length - 1))
		if !minFrame.Valid() || start < minFrame {
			minFrame = start
		}
		if end > maxFrame {
			maxFrame = end
		}
		return true
	})

	if !minFrame.Valid() {
		return errRefAllocOutOfMemory
	}

	alloc.startFrame = minFrame
	alloc.frameCount = uint32(maxFrame-minFrame) + 1
	alloc.counts = make([]uint16, alloc.frameCount)

	// Frames inside gaps between available regions must never be handed
	// out; mark everything reserved and then open up the available spans.
	for i := range alloc.counts {
		alloc.counts[i] = reservedFrame
	}

	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		start := mm.FrameFromAddress(uintptr(region.PhysAddress))
		end := mm.FrameFromAddress(uintptr(region.PhysAddress + region.Length - 1))
		for f := start; f <= end; f++ {
			alloc.counts[f-alloc.startFrame] = 0
			alloc.freeCount++
		}
		return true
	})

	alloc.reserveBootAllocatorFrames()

	alloc.printStats()
	return nil
}

// reserveBootAllocatorFrames re-reserves every frame up to and including the
// boot allocator's high-water mark so a live frame is never double-allocated.
func (alloc *RefCountAllocator) reserveBootAllocatorFrames() {
	if bootMemAllocator.lastAllocIndex < 0 {
		return
	}

	lastFrame := mm.Frame(bootMemAllocator.lastAllocIndex)
	if lastFrame < alloc.startFrame {
		return
	}

	for f := alloc.startFrame; f <= lastFrame && f-alloc.startFrame < mm.Frame(alloc.frameCount); f++ {
		slot := f - alloc.startFrame
		if alloc.counts[slot] == 0 {
			alloc.counts[slot] = reservedFrame
			alloc.freeCount--
		}
	}
}

// AllocFrame reserves the next available physical frame and sets its
// reference count to one.
func (alloc *RefCountAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if alloc.freeCount == 0 {
		return mm.InvalidFrame, errRefAllocOutOfMemory
	}

	for i := uint32(0); i < alloc.frameCount; i++ {
		slot := (alloc.nextScan + i) % alloc.frameCount
		if alloc.counts[slot] == 0 {
			alloc.counts[slot] = 1
			alloc.freeCount--
			alloc.nextScan = slot + 1
			return alloc.startFrame + mm.Frame(slot), nil
		}
	}

	return mm.InvalidFrame, errRefAllocOutOfMemory
}

// AllocZeroedFrame behaves like AllocFrame but also clears the frame
// contents through a temporary kernel mapping.
func (alloc *RefCountAllocator) AllocZeroedFrame() (mm.Frame, *kernel.Error) {
	frame, err := alloc.AllocFrame()
	if err != nil {
		return mm.InvalidFrame, err
	}

	tempPage, err := mapTemporaryFn(frame)
	if err != nil {
		alloc.DecRefs(frame)
		return mm.InvalidFrame, err
	}

	memsetFn(tempPage.Address(), 0, mm.PageSize)
	_ = unmapFn(tempPage)

	return frame, nil
}

// IncRefs increments the reference count of an allocated frame. Untracked
// and free frames are left untouched; sharing a frame the allocator never
// handed out is a bookkeeping bug upstream, not a reason to corrupt the
// free list.
func (alloc *RefCountAllocator) IncRefs(frame mm.Frame) {
	slot, ok := alloc.slotFor(frame)
	if !ok || alloc.counts[slot] == 0 || alloc.counts[slot] == reservedFrame {
		return
	}

	alloc.counts[slot]++
}

// DecRefs decrements the reference count of an allocated frame, releasing
// the frame back to the free list when the count reaches zero.
func (alloc *RefCountAllocator) DecRefs(frame mm.Frame) {
	slot, ok := alloc.slotFor(frame)
	if !ok || alloc.counts[slot] == 0 || alloc.counts[slot] == reservedFrame {
		return
	}

	alloc.counts[slot]--
	if alloc.counts[slot] == 0 {
		alloc.freeCount++
		if slot < alloc.nextScan {
			alloc.nextScan = slot
		}
	}
}

// RefCount returns the current reference count of a frame. Reserved and
// untracked frames report zero.
func (alloc *RefCountAllocator) RefCount(frame mm.Frame) uint32 {
	slot, ok := alloc.slotFor(frame)
	if !ok || alloc.counts[slot] == reservedFrame {
		return 0
	}

	return uint32(alloc.counts[slot])
}

// FreeCount returns the number of frames currently on the free list.
func (alloc *RefCountAllocator) FreeCount() uint32 {
	return alloc.freeCount
}

func (alloc *RefCountAllocator) slotFor(frame mm.Frame) (uint32, bool) {
	if frame < alloc.startFrame || frame-alloc.startFrame >= mm.Frame(alloc.frameCount) {
		return 0, false
	}

	return uint32(frame - alloc.startFrame), true
}

func (alloc *RefCountAllocator) printStats() {
	kfmt.Printf("[ref_alloc] tracking %d frames starting at frame %d (%d free)\n", alloc.frameCount, alloc.startFrame, alloc.freeCount)
}
