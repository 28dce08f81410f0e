package vmm

import (
	"exocore/kernel/mm"
	"testing"
	"unsafe"
)

func TestPageTableEntryFlags(t *testing.T) {
	var pte pageTableEntry

	pte.SetFlags(FlagPresent | FlagRW)
	if !pte.HasFlags(FlagPresent | FlagRW) {
		t.Error("expected pte to report the flags that were just set")
	}

	if pte.HasFlags(FlagPresent | FlagUserAccessible) {
		t.Error("expected HasFlags to require all queried flags")
	}

	if !pte.HasAnyFlag(FlagRW | FlagUserAccessible) {
		t.Error("expected HasAnyFlag to match a single set flag")
	}

	pte.ClearFlags(FlagRW)
	if pte.HasFlags(FlagRW) {
		t.Error("expected RW flag to be cleared")
	}

	if got := pte.Flags(); got != FlagPresent {
		t.Errorf("expected Flags() to return only the present bit; got %x", got)
	}
}

func TestPageTableEntryFrame(t *testing.T) {
	var pte pageTableEntry

	pte.SetFlags(FlagPresent | FlagUserAccessible)
	pte.SetFrame(mm.Frame(0x123))

	if got := pte.Frame(); got != mm.Frame(0x123) {
		t.Errorf("expected pte frame to be %x; got %x", 0x123, got)
	}

	// Updating the frame must leave the flag bits untouched.
	pte.SetFrame(mm.Frame(0x456))
	if !pte.HasFlags(FlagPresent | FlagUserAccessible) {
		t.Error("expected flags to survive a SetFrame call")
	}
}

// fakeTables provides backing storage for the recursive page-table virtual
// addresses that walk() generates, so page-table code can run as a regular
// user-space test.
type fakeTables struct {
	pdt    [1 << 10]pageTableEntry
	tables map[uintptr]*[1 << 10]pageTableEntry
}

func (ft *fakeTables) install() {
	ft.tables = make(map[uintptr]*[1 << 10]pageTableEntry)

	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		if entryAddr >= pdtVirtualAddr && entryAddr < pdtVirtualAddr+mm.PageSize {
			return unsafe.Pointer(&ft.pdt[(entryAddr-pdtVirtualAddr)>>mm.PointerShift])
		}

		// Page-table region: pdtVirtualAddr<<10 + pde*PageSize + pte*4
		off := entryAddr - (pdtVirtualAddr << pageLevelBits[0])
		pdeIndex := off >> mm.PageShift
		pteIndex := (off & (mm.PageSize - 1)) >> mm.PointerShift

		table := ft.tables[pdeIndex]
		if table == nil {
			table = new([1 << 10]pageTableEntry)
			ft.tables[pdeIndex] = table
		}

		return unsafe.Pointer(&table[pteIndex])
	}
}

func restorePdtSeams() {
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer { return unsafe.Pointer(entryAddr) }
	flushTLBEntryFn = func(_ uintptr) {}
}

func TestPteForAddress(t *testing.T) {
	var ft fakeTables

	defer restorePdtSeams()
	ft.install()

	virtAddr := uintptr(0x00402000)

	// Missing directory entry
	if _, err := pteForAddress(virtAddr); err != ErrInvalidMapping {
		t.Errorf("expected ErrInvalidMapping; got %v", err)
	}

	// Present directory entry but missing table entry
	pdeIndex := virtAddr >> pageLevelShifts[0]
	ft.pdt[pdeIndex].SetFlags(FlagPresent | FlagRW)
	ft.pdt[pdeIndex].SetFrame(mm.Frame(0x20))

	if _, err := pteForAddress(virtAddr); err != ErrInvalidMapping {
		t.Errorf("expected ErrInvalidMapping for missing table entry; got %v", err)
	}

	// Fully mapped address
	pteIndex := (virtAddr >> pageLevelShifts[1]) & ((1 << pageLevelBits[1]) - 1)
	table := ft.tables[pdeIndex]
	table[pteIndex].SetFlags(FlagPresent)
	table[pteIndex].SetFrame(mm.Frame(0x99))

	pte, err := pteForAddress(virtAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := pte.Frame(); got != mm.Frame(0x99) {
		t.Errorf("expected final pte frame to be 0x99; got %x", got)
	}
}
