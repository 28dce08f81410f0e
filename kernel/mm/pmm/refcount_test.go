package pmm

import (
	"exocore/kernel"
	"exocore/kernel/mm"
	"testing"
)

func mkRefAllocator(startFrame mm.Frame, frameCount uint32) *RefCountAllocator {
	alloc := &RefCountAllocator{
		startFrame: startFrame,
		frameCount: frameCount,
		freeCount:  frameCount,
		counts:     make([]uint16, frameCount),
	}

	return alloc
}

func TestRefAllocFrame(t *testing.T) {
	alloc := mkRefAllocator(mm.Frame(16), 4)

	for i := 0; i < 4; i++ {
		frame, err := alloc.AllocFrame()
		if err != nil {
			t.Fatalf("[alloc %d] unexpected error: %v", i, err)
		}

		if exp := mm.Frame(16 + i); frame != exp {
			t.Errorf("[alloc %d] expected frame %d; got %d", i, exp, frame)
		}

		if got := alloc.RefCount(frame); got != 1 {
			t.Errorf("[alloc %d] expected refcount 1; got %d", i, got)
		}
	}

	if alloc.FreeCount() != 0 {
		t.Errorf("expected free count to be 0; got %d", alloc.FreeCount())
	}

	if _, err := alloc.AllocFrame(); err != errRefAllocOutOfMemory {
		t.Errorf("expected to get errRefAllocOutOfMemory; got %v", err)
	}
}

func TestRefAllocSkipsReservedFrames(t *testing.T) {
	alloc := mkRefAllocator(mm.Frame(0), 3)
	alloc.counts[1] = reservedFrame
	alloc.freeCount--

	for _, exp := range []mm.Frame{0, 2} {
		frame, err := alloc.AllocFrame()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if frame != exp {
			t.Errorf("expected frame %d; got %d", exp, frame)
		}
	}

	if got := alloc.RefCount(mm.Frame(1)); got != 0 {
		t.Errorf("expected reserved frame to report refcount 0; got %d", got)
	}
}

func TestRefAllocZeroedFrame(t *testing.T) {
	defer func() {
		mapTemporaryFn = nil
		unmapFn = nil
		memsetFn = kernel.Memset
	}()

	var (
		memsetCalled bool
		unmapCalled  bool
		mapErr       = &kernel.Error{Module: "test", Message: "map failed"}
	)

	alloc := mkRefAllocator(mm.Frame(8), 2)

	mapTemporaryFn = func(f mm.Frame) (mm.Page, *kernel.Error) { return mm.Page(f), nil }
	unmapFn = func(_ mm.Page) *kernel.Error { unmapCalled = true; return nil }
	memsetFn = func(_ uintptr, _ byte, _ uintptr) { memsetCalled = true }

	frame, err := alloc.AllocZeroedFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !memsetCalled || !unmapCalled {
		t.Error("expected the frame contents to be cleared through a temporary mapping")
	}

	if got := alloc.RefCount(frame); got != 1 {
		t.Errorf("expected refcount 1; got %d", got)
	}

	// When the temporary mapping fails the freshly reserved frame must be
	// released before the error is returned.
	freeBefore := alloc.FreeCount()
	mapTemporaryFn = func(_ mm.Frame) (mm.Page, *kernel.Error) { return 0, mapErr }

	if _, err = alloc.AllocZeroedFrame(); err != mapErr {
		t.Fatalf("expected to get mapErr; got %v", err)
	}

	if alloc.FreeCount() != freeBefore {
		t.Errorf("expected free count to be restored to %d; got %d", freeBefore, alloc.FreeCount())
	}
}

func TestRefAllocIncDecRefs(t *testing.T) {
	alloc := mkRefAllocator(mm.Frame(4), 2)
	freeBefore := alloc.FreeCount()

	frame, err := alloc.AllocFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	alloc.IncRefs(frame)
	if got := alloc.RefCount(frame); got != 2 {
		t.Errorf("expected refcount 2; got %d", got)
	}

	alloc.DecRefs(frame)
	if got := alloc.RefCount(frame); got != 1 {
		t.Errorf("expected refcount 1; got %d", got)
	}

	alloc.DecRefs(frame)
	if got := alloc.RefCount(frame); got != 0 {
		t.Errorf("expected frame to be released; got refcount %d", got)
	}

	// An alloc/release pair leaves the frame pool unchanged.
	if alloc.FreeCount() != freeBefore {
		t.Errorf("expected free count to return to %d; got %d", freeBefore, alloc.FreeCount())
	}

	// Released frames are reused by subsequent allocations.
	again, err := alloc.AllocFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != frame {
		t.Errorf("expected released frame %d to be reused; got %d", frame, again)
	}

	// Inc/Dec on free, reserved or untracked frames must not disturb the
	// free list.
	alloc.counts[1] = reservedFrame
	alloc.freeCount--
	freeBefore = alloc.FreeCount()

	alloc.IncRefs(mm.Frame(5))
	alloc.DecRefs(mm.Frame(5))
	alloc.IncRefs(mm.Frame(1000))
	alloc.DecRefs(mm.Frame(1000))

	if alloc.FreeCount() != freeBefore {
		t.Errorf("expected free count to remain %d; got %d", freeBefore, alloc.FreeCount())
	}
}
