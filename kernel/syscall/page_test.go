package syscall

import (
	"exocore/kernel"
	"exocore/kernel/env"
	"exocore/kernel/mm"
	"exocore/kernel/mm/vmm"
	"testing"
)

// mappingRecorder mocks the address-space seams with an in-memory mapping
// table keyed by environment pointer.
type mappingRecorder struct {
	mappings map[*vmm.AddressSpace]map[mm.Page]mappingEntry
	refDecs  map[mm.Frame]int
	insErr   *kernel.Error
}

type mappingEntry struct {
	frame mm.Frame
	flags vmm.PageTableEntryFlag
}

func (r *mappingRecorder) install() {
	r.mappings = make(map[*vmm.AddressSpace]map[mm.Page]mappingEntry)
	r.refDecs = make(map[mm.Frame]int)

	insertFn = func(as *vmm.AddressSpace, page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
		if r.insErr != nil {
			return r.insErr
		}
		if r.mappings[as] == nil {
			r.mappings[as] = make(map[mm.Page]mappingEntry)
		}
		r.mappings[as][page] = mappingEntry{frame, flags | vmm.FlagPresent}
		return nil
	}

	removeFn = func(as *vmm.AddressSpace, page mm.Page) {
		delete(r.mappings[as], page)
	}

	lookupMappingFn = func(as *vmm.AddressSpace, page mm.Page) (mm.Frame, vmm.PageTableEntryFlag, *kernel.Error) {
		entry, ok := r.mappings[as][page]
		if !ok {
			return mm.InvalidFrame, 0, vmm.ErrInvalidMapping
		}
		return entry.frame, entry.flags, nil
	}

	decFrameRefsFn = func(f mm.Frame) { r.refDecs[f]++ }
}

const permURW = vmm.FlagPresent | vmm.FlagUserAccessible | vmm.FlagRW

func TestPageAllocValidation(t *testing.T) {
	defer restoreSyscallSeams()
	resetSyscallTestState()

	var rec mappingRecorder
	rec.install()
	allocZeroedFrameFn = func() (mm.Frame, *kernel.Error) { return mm.Frame(0x42), nil }

	specs := []struct {
		va   uint32
		perm uint32
		exp  int32
	}{
		// Unaligned address
		{0x1234, uint32(permURW), kernel.ErrInval.Code()},
		// Kernel-region address
		{uint32(mm.UTop), uint32(permURW), kernel.ErrInval.Code()},
		// Last user page is fine
		{uint32(mm.UTop - mm.PageSize), uint32(permURW), 0},
		// Missing user/present bits
		{0x1000, uint32(vmm.FlagPresent | vmm.FlagRW), kernel.ErrInval.Code()},
		{0x1000, uint32(vmm.FlagUserAccessible | vmm.FlagRW), kernel.ErrInval.Code()},
		// Bits outside the permitted mask
		{0x1000, uint32(permURW | vmm.FlagDirty), kernel.ErrInval.Code()},
		{0x1000, uint32(permURW | vmm.FlagGlobal), kernel.ErrInval.Code()},
		// The OS-available bit is allowed
		{0x1000, uint32(permURW | vmm.FlagOSAvailable), 0},
		// Write-through and cache-disable are allowed
		{0x1000, uint32(permURW | vmm.FlagWriteThroughCaching | vmm.FlagDoNotCache), 0},
	}

	for specIndex, spec := range specs {
		if got := Dispatch(syscallFrame(SysPageAlloc, 0, spec.va, spec.perm)); got != spec.exp {
			t.Errorf("[spec %d] expected result %d; got %d", specIndex, spec.exp, got)
		}
	}
}

func TestPageAllocInstallsZeroedFrame(t *testing.T) {
	defer restoreSyscallSeams()
	cur := resetSyscallTestState()

	var rec mappingRecorder
	rec.install()
	allocZeroedFrameFn = func() (mm.Frame, *kernel.Error) { return mm.Frame(0x42), nil }

	if got := Dispatch(syscallFrame(SysPageAlloc, 0, 0x1000, uint32(permURW))); got != 0 {
		t.Fatalf("unexpected result: %d", got)
	}

	entry := rec.mappings[&cur.AS][mm.PageFromAddress(0x1000)]
	if entry.frame != mm.Frame(0x42) {
		t.Errorf("expected the zeroed frame to be installed; got %x", entry.frame)
	}

	// The allocation reference is dropped once the mapping holds its own.
	if rec.refDecs[mm.Frame(0x42)] != 1 {
		t.Errorf("expected exactly one reference drop; got %d", rec.refDecs[mm.Frame(0x42)])
	}
}

func TestPageAllocRollsBackOnInsertFailure(t *testing.T) {
	defer restoreSyscallSeams()
	resetSyscallTestState()

	var rec mappingRecorder
	rec.install()
	rec.insErr = &kernel.Error{Module: "test", Message: "no table"}
	allocZeroedFrameFn = func() (mm.Frame, *kernel.Error) { return mm.Frame(0x42), nil }

	if got := Dispatch(syscallFrame(SysPageAlloc, 0, 0x1000, uint32(permURW))); got != kernel.ErrNoMem.Code() {
		t.Fatalf("expected ErrNoMem; got %d", got)
	}

	if rec.refDecs[mm.Frame(0x42)] != 1 {
		t.Error("expected the freshly allocated frame to be released")
	}

	// Allocation failures surface as ErrNoMem too.
	allocErr := &kernel.Error{Module: "test", Message: "oom"}
	allocZeroedFrameFn = func() (mm.Frame, *kernel.Error) { return mm.InvalidFrame, allocErr }
	if got := Dispatch(syscallFrame(SysPageAlloc, 0, 0x1000, uint32(permURW))); got != kernel.ErrNoMem.Code() {
		t.Errorf("expected ErrNoMem; got %d", got)
	}
}

func TestPageMapSharesFrame(t *testing.T) {
	defer restoreSyscallSeams()
	cur := resetSyscallTestState()

	child := mkEnv(1, env.StatusNotRunnable)
	child.ParentID = cur.ID

	var rec mappingRecorder
	rec.install()

	srcPage := mm.PageFromAddress(0x2000)
	rec.mappings[&cur.AS] = map[mm.Page]mappingEntry{
		srcPage: {mm.Frame(0x99), permURW},
	}

	if got := Dispatch(syscallFrame(SysPageMap,
		0, 0x2000, uint32(child.ID), 0x5000, uint32(permURW))); got != 0 {
		t.Fatalf("unexpected result: %d", got)
	}

	entry := rec.mappings[&child.AS][mm.PageFromAddress(0x5000)]
	if entry.frame != mm.Frame(0x99) {
		t.Errorf("expected both environments to share frame 0x99; got %x", entry.frame)
	}

	// The source mapping is untouched.
	if rec.mappings[&cur.AS][srcPage].frame != mm.Frame(0x99) {
		t.Error("expected the source mapping to remain intact")
	}
}

func TestPageMapPermissionLeakGuard(t *testing.T) {
	defer restoreSyscallSeams()
	cur := resetSyscallTestState()

	child := mkEnv(1, env.StatusNotRunnable)
	child.ParentID = cur.ID

	var rec mappingRecorder
	rec.install()

	// Read-only source mapping.
	rec.mappings[&cur.AS] = map[mm.Page]mappingEntry{
		mm.PageFromAddress(0x2000): {mm.Frame(0x99), vmm.FlagPresent | vmm.FlagUserAccessible},
	}

	if got := Dispatch(syscallFrame(SysPageMap,
		0, 0x2000, uint32(child.ID), 0x5000, uint32(permURW))); got != kernel.ErrInval.Code() {
		t.Fatalf("expected ErrInval for a writable map of a read-only page; got %d", got)
	}

	// The destination address space is unchanged.
	if len(rec.mappings[&child.AS]) != 0 {
		t.Error("expected the destination address space to be untouched")
	}

	// An unmapped source fails the same way.
	if got := Dispatch(syscallFrame(SysPageMap,
		0, 0x3000, uint32(child.ID), 0x5000, uint32(permURW))); got != kernel.ErrInval.Code() {
		t.Errorf("expected ErrInval for an unmapped source; got %d", got)
	}
}

func TestPageUnmap(t *testing.T) {
	defer restoreSyscallSeams()
	cur := resetSyscallTestState()

	var rec mappingRecorder
	rec.install()

	rec.mappings[&cur.AS] = map[mm.Page]mappingEntry{
		mm.PageFromAddress(0x2000): {mm.Frame(0x99), permURW},
	}

	if got := Dispatch(syscallFrame(SysPageUnmap, 0, 0x2000)); got != 0 {
		t.Fatalf("unexpected result: %d", got)
	}

	if len(rec.mappings[&cur.AS]) != 0 {
		t.Error("expected the mapping to be removed")
	}

	// Unmapping an unmapped address silently succeeds.
	if got := Dispatch(syscallFrame(SysPageUnmap, 0, 0x2000)); got != 0 {
		t.Errorf("expected repeated unmap to succeed; got %d", got)
	}

	if got := Dispatch(syscallFrame(SysPageUnmap, 0, uint32(mm.UTop))); got != kernel.ErrInval.Code() {
		t.Errorf("expected ErrInval for a kernel-region address; got %d", got)
	}
}
