package env

import (
	"exocore/kernel"
	"exocore/kernel/cpu"
	"exocore/kernel/mm"
	"exocore/kernel/mm/vmm"
	"testing"
)

func resetEnvTestState() {
	Init()
	SetCurrent(nil)

	newAddressSpaceFn = func() (vmm.AddressSpace, *kernel.Error) { return vmm.AddressSpace{}, nil }
	activateKernelASFn = func() {}
	releaseASFn = func(_ *vmm.AddressSpace) {}
	activateASFn = func(_ *vmm.AddressSpace) {}
	lookupASFn = (*vmm.AddressSpace).Lookup
	kernelLockReleaseFn = func() {}
	popTrapframeFn = func(_ *cpu.Trapframe) {}
	schedYieldFn = func() {}
}

func TestAllocAssignsFreshIDs(t *testing.T) {
	resetEnvTestState()

	e1, errno := Alloc(0)
	if errno != 0 {
		t.Fatalf("unexpected errno: %d", errno)
	}

	if e1.ID <= 0 {
		t.Errorf("expected a positive environment id; got %d", e1.ID)
	}

	if e1.Status != StatusNotRunnable {
		t.Errorf("expected fresh environment to be not-runnable; got %d", e1.Status)
	}

	if Slot(e1.ID) != 0 {
		t.Errorf("expected first allocation to use slot 0; got %d", Slot(e1.ID))
	}

	e2, errno := Alloc(e1.ID)
	if errno != 0 {
		t.Fatalf("unexpected errno: %d", errno)
	}

	if e2.ParentID != e1.ID {
		t.Errorf("expected parent id %d; got %d", e1.ID, e2.ParentID)
	}

	// Recycling a slot must advance the id generation so the stale id no
	// longer resolves.
	oldID := e2.ID
	Free(e2)

	e3, errno := Alloc(0)
	if errno != 0 {
		t.Fatalf("unexpected errno: %d", errno)
	}

	if Slot(e3.ID) != Slot(oldID) {
		t.Fatalf("expected freed slot %d to be reused; got %d", Slot(oldID), Slot(e3.ID))
	}

	if e3.ID == oldID {
		t.Error("expected recycled slot to carry a fresh generation")
	}
}

func TestAllocSetsUserModeFrame(t *testing.T) {
	resetEnvTestState()

	e, errno := Alloc(0)
	if errno != 0 {
		t.Fatalf("unexpected errno: %d", errno)
	}

	if !e.SavedFrame.FromUserMode() {
		t.Error("expected the initial frame to carry a user-mode code selector")
	}

	if e.SavedFrame.EFlags&cpu.FlagsIF == 0 {
		t.Error("expected the initial frame to have interrupts enabled")
	}

	if e.SavedFrame.ESP != uint32(mm.UStackTop) {
		t.Errorf("expected the initial stack pointer to be %x; got %x", mm.UStackTop, e.SavedFrame.ESP)
	}
}

func TestAllocExhaustion(t *testing.T) {
	resetEnvTestState()

	for i := 0; i < NumEnvs; i++ {
		if _, errno := Alloc(0); errno != 0 {
			t.Fatalf("[alloc %d] unexpected errno: %d", i, errno)
		}
	}

	if _, errno := Alloc(0); errno != kernel.ErrNoFreeEnv {
		t.Errorf("expected ErrNoFreeEnv; got %d", errno)
	}
}

func TestLookup(t *testing.T) {
	resetEnvTestState()

	parent, _ := Alloc(0)
	parent.Status = StatusRunning
	SetCurrent(parent)

	child, _ := Alloc(parent.ID)
	other, _ := Alloc(0)

	// The zero id resolves to the caller.
	if e, errno := Lookup(0, true); errno != 0 || e != parent {
		t.Errorf("expected zero id to resolve to the caller (errno %d)", errno)
	}

	// A direct child may be acted upon.
	if e, errno := Lookup(child.ID, true); errno != 0 || e != child {
		t.Errorf("expected child lookup to succeed (errno %d)", errno)
	}

	// An unrelated environment may be read but not acted upon.
	if _, errno := Lookup(other.ID, false); errno != 0 {
		t.Errorf("expected unchecked lookup to succeed; got errno %d", errno)
	}
	if _, errno := Lookup(other.ID, true); errno != kernel.ErrBadEnv {
		t.Errorf("expected checked lookup of a non-child to fail; got errno %d", errno)
	}

	// A stale id stops resolving after its slot is recycled.
	staleID := child.ID
	Free(child)
	if _, errno := Lookup(staleID, false); errno != kernel.ErrBadEnv {
		t.Errorf("expected stale id lookup to fail; got errno %d", errno)
	}
}

func TestDestroy(t *testing.T) {
	resetEnvTestState()

	var yielded bool
	schedYieldFn = func() { yielded = true }

	cur, _ := Alloc(0)
	cur.Status = StatusRunning
	SetCurrent(cur)

	// Destroying an environment running on another CPU only marks it
	// dying; the owning CPU reaps it on its next kernel entry.
	remote, _ := Alloc(0)
	remote.Status = StatusRunning

	Destroy(remote)
	if remote.Status != StatusDying {
		t.Errorf("expected remote environment to be marked dying; got %d", remote.Status)
	}
	if yielded {
		t.Error("expected no yield when destroying a remote environment")
	}

	// Destroying the caller frees it, clears the current slot and yields.
	var kernelASActivated bool
	activateKernelASFn = func() { kernelASActivated = true }

	Destroy(cur)
	if cur.Status != StatusFree {
		t.Errorf("expected destroyed caller to be freed; got %d", cur.Status)
	}
	if Current() != nil {
		t.Error("expected the current-environment slot to be cleared")
	}
	if !yielded {
		t.Error("expected Destroy of the caller to yield")
	}
	if !kernelASActivated {
		t.Error("expected the kernel address space to be activated before teardown")
	}
}

func TestRun(t *testing.T) {
	resetEnvTestState()

	var (
		activated    bool
		lockReleased bool
		popped       *cpu.Trapframe
	)

	activateASFn = func(_ *vmm.AddressSpace) { activated = true }
	kernelLockReleaseFn = func() { lockReleased = true }
	popTrapframeFn = func(tf *cpu.Trapframe) { popped = tf }

	prev, _ := Alloc(0)
	prev.Status = StatusRunning
	SetCurrent(prev)

	next, _ := Alloc(0)
	next.Status = StatusRunnable

	Run(next)

	if prev.Status != StatusRunnable {
		t.Errorf("expected the preempted environment to become runnable; got %d", prev.Status)
	}

	if Current() != next || next.Status != StatusRunning {
		t.Error("expected the dispatched environment to be current and running")
	}

	if next.Runs != 1 {
		t.Errorf("expected run counter to be 1; got %d", next.Runs)
	}

	if !activated || !lockReleased {
		t.Error("expected the address space switch and the kernel lock release")
	}

	if popped != &next.SavedFrame {
		t.Error("expected the dispatched environment's saved frame to be restored")
	}
}

func TestCheckMemory(t *testing.T) {
	resetEnvTestState()

	e, _ := Alloc(0)

	mapped := map[mm.Page]vmm.PageTableEntryFlag{
		mm.PageFromAddress(0x1000): vmm.FlagPresent | vmm.FlagUserAccessible | vmm.FlagRW,
		mm.PageFromAddress(0x2000): vmm.FlagPresent | vmm.FlagUserAccessible,
	}

	lookupASFn = func(_ *vmm.AddressSpace, page mm.Page) (mm.Frame, vmm.PageTableEntryFlag, *kernel.Error) {
		flags, ok := mapped[page]
		if !ok {
			return mm.InvalidFrame, 0, vmm.ErrInvalidMapping
		}
		return mm.Frame(0x10), flags, nil
	}

	specs := []struct {
		va, size uintptr
		need     vmm.PageTableEntryFlag
		expErrno kernel.Errno
	}{
		// Readable pair of pages
		{0x1000, 2 * mm.PageSize, 0, 0},
		// Zero-sized checks always pass
		{0xffffffff, 0, 0, 0},
		// Writable check passes only on the RW page
		{0x1000, mm.PageSize, vmm.FlagRW, 0},
		{0x2000, mm.PageSize, vmm.FlagRW, kernel.ErrInval},
		// Unmapped page
		{0x3000, 1, 0, kernel.ErrInval},
		// Range crossing into an unmapped page
		{0x2800, mm.PageSize, 0, kernel.ErrInval},
		// Kernel region is never user-accessible
		{mm.UTop - mm.PageSize, 2 * mm.PageSize, 0, kernel.ErrInval},
	}

	for specIndex, spec := range specs {
		if got := CheckMemory(e, spec.va, spec.size, spec.need); got != spec.expErrno {
			t.Errorf("[spec %d] expected errno %d; got %d", specIndex, spec.expErrno, got)
		}
	}
}
