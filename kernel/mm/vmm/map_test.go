package vmm

import (
	"exocore/kernel"
	"exocore/kernel/mm"
	"testing"
	"unsafe"
)

func TestMapAndTranslate(t *testing.T) {
	defer restoreAddrSpaceSeams()

	var ft fakeTables
	ft.install()
	flushTLBEntryFn = func(_ uintptr) {}

	scratch := make([]byte, mm.PageSize)
	nextAddrFn = func(_ uintptr) uintptr { return uintptr(unsafe.Pointer(&scratch[0])) }

	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) { return mm.Frame(0x77), nil })

	var (
		page  = mm.PageFromAddress(0x00403000)
		frame = mm.Frame(0x55)
	)

	if err := Map(page, frame, FlagPresent|FlagRW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The missing page table must have been allocated and linked into the
	// directory slot covering the page.
	pdeIndex := page.Address() >> pageLevelShifts[0]
	if got := ft.pdt[pdeIndex].Frame(); got != mm.Frame(0x77) {
		t.Errorf("expected directory slot %d to reference the allocated table frame; got %x", pdeIndex, got)
	}

	physAddr, err := Translate(page.Address() + 0x123)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if exp := frame.Address() + 0x123; physAddr != exp {
		t.Errorf("expected Translate to return %x; got %x", exp, physAddr)
	}
}

func TestMapTableAllocationError(t *testing.T) {
	defer restoreAddrSpaceSeams()

	var ft fakeTables
	ft.install()
	flushTLBEntryFn = func(_ uintptr) {}

	expErr := &kernel.Error{Module: "test", Message: "out of memory"}
	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) { return mm.InvalidFrame, expErr })

	if err := Map(mm.PageFromAddress(0x00403000), mm.Frame(0x55), FlagPresent); err != expErr {
		t.Errorf("expected table allocation error; got %v", err)
	}
}

func TestUnmap(t *testing.T) {
	defer restoreAddrSpaceSeams()

	var ft fakeTables
	ft.install()
	flushTLBEntryFn = func(_ uintptr) {}

	scratch := make([]byte, mm.PageSize)
	nextAddrFn = func(_ uintptr) uintptr { return uintptr(unsafe.Pointer(&scratch[0])) }
	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) { return mm.Frame(0x77), nil })

	page := mm.PageFromAddress(0x00403000)

	// Unmapping an address whose page table is missing reports an invalid
	// mapping.
	if err := Unmap(page); err != ErrInvalidMapping {
		t.Errorf("expected ErrInvalidMapping; got %v", err)
	}

	if err := Map(page, mm.Frame(0x55), FlagPresent|FlagRW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := Unmap(page); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := Translate(page.Address()); err != ErrInvalidMapping {
		t.Errorf("expected Translate after Unmap to fail; got %v", err)
	}
}

func TestMapTemporaryProtectsReservedFrame(t *testing.T) {
	defer func() {
		protectReservedZeroedPage = false
		ReservedZeroedFrame = 0
	}()
	defer restoreAddrSpaceSeams()

	var ft fakeTables
	ft.install()
	flushTLBEntryFn = func(_ uintptr) {}

	scratch := make([]byte, mm.PageSize)
	nextAddrFn = func(_ uintptr) uintptr { return uintptr(unsafe.Pointer(&scratch[0])) }
	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) { return mm.Frame(0x77), nil })

	ReservedZeroedFrame = mm.Frame(0x42)
	protectReservedZeroedPage = true

	if _, err := MapTemporary(ReservedZeroedFrame); err != errAttemptToRWMapReservedFrame {
		t.Errorf("expected errAttemptToRWMapReservedFrame; got %v", err)
	}

	if err := Map(mm.PageFromAddress(0x1000), ReservedZeroedFrame, FlagPresent|FlagRW); err != errAttemptToRWMapReservedFrame {
		t.Errorf("expected errAttemptToRWMapReservedFrame; got %v", err)
	}

	// A temporary mapping of a regular frame lands at the reserved
	// temporary address.
	page, err := MapTemporary(mm.Frame(0x43))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if exp := mm.PageFromAddress(tempMappingAddr); page != exp {
		t.Errorf("expected temporary mapping at page %x; got %x", exp, page)
	}

	physAddr, err := Translate(tempMappingAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if exp := mm.Frame(0x43).Address(); physAddr != exp {
		t.Errorf("expected temporary page to translate to %x; got %x", exp, physAddr)
	}
}
