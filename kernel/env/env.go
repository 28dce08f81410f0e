package env

import (
	"exocore/kernel"
	"exocore/kernel/cpu"
	"exocore/kernel/mm"
	"exocore/kernel/mm/vmm"
	"unsafe"
)

const (
	// NumEnvs is the size of the environment table.
	NumEnvs = 1024

	// generationShift is the bit position where the generation part of an
	// environment id begins. The low bits select the table slot; the
	// generation bits make recycled slots produce fresh ids so stale ids
	// held by other environments resolve to nothing.
	generationShift = 12
)

// ID identifies an environment. The zero ID always refers to the calling
// environment.
type ID int32

// Status describes the lifecycle state of an environment.
type Status uint8

const (
	// StatusFree marks an unused environment table slot.
	StatusFree Status = iota

	// StatusDying marks an environment that was destroyed while running
	// on another CPU. It is reaped on the next kernel entry that finds it
	// current.
	StatusDying

	// StatusRunnable marks an environment the scheduler may pick.
	StatusRunnable

	// StatusRunning marks the environment currently executing on a CPU.
	StatusRunning

	// StatusNotRunnable marks an environment that must not be scheduled,
	// e.g. a fresh child or a blocked IPC receiver.
	StatusNotRunnable
)

// Env is a user-mode execution context: an address space, the CPU state
// saved at its last kernel entry and an IPC mailbox.
type Env struct {
	// SavedFrame holds the environment's register state while it is not
	// executing. The scheduler resumes the environment from this copy.
	SavedFrame cpu.Trapframe

	ID       ID
	ParentID ID
	Status   Status

	// Runs counts how many times the environment has been dispatched.
	Runs uint32

	// AS is the environment's address space. It is exclusively owned;
	// individual frames may be shared with other address spaces.
	AS vmm.AddressSpace

	// PgfaultUpcall is the registered user-mode page-fault entry point,
	// or zero when absent. The kernel stores it without dereferencing it.
	PgfaultUpcall uintptr

	// IPC mailbox. IPCRecving is set while the environment is blocked in
	// a receive; the winning sender clears it and fills in the rest.
	IPCRecving bool
	IPCDstVA   uintptr
	IPCFrom    ID
	IPCValue   uint32
	IPCPerm    vmm.PageTableEntryFlag

	nextFree *Env
}

var (
	envs     [NumEnvs]Env
	freeList *Env

	// curEnv tracks the environment running on each CPU.
	curEnv [cpu.MaxCPUs]*Env

	// The following seams are overridden by tests.
	newAddressSpaceFn  = vmm.NewAddressSpace
	activateKernelASFn = func() { vmm.KernelAddressSpace().Activate() }
	lookupASFn         = (*vmm.AddressSpace).Lookup
	releaseASFn        = (*vmm.AddressSpace).Release
	activateASFn       = (*vmm.AddressSpace).Activate

	// schedYieldFn hands control to the scheduler. It is wired at boot to
	// break the package dependency between the environment table and the
	// scheduler that walks it.
	schedYieldFn func()
)

// Init links every table slot into the free list in ascending slot order.
func Init() {
	freeList = nil
	for i := NumEnvs - 1; i >= 0; i-- {
		envs[i].Status = StatusFree
		envs[i].ID = 0
		envs[i].nextFree = freeList
		freeList = &envs[i]
	}
}

// SetScheduler registers the yield function invoked when a destroyed
// environment needs to give up its CPU.
func SetScheduler(yield func()) {
	schedYieldFn = yield
}

// Current returns the environment running on the calling CPU, or nil.
func Current() *Env {
	return curEnv[cpu.Current().Index]
}

// SetCurrent updates the calling CPU's current-environment slot.
func SetCurrent(e *Env) {
	curEnv[cpu.Current().Index] = e
}

// At returns the environment table slot with the given index.
func At(slot int) *Env {
	return &envs[slot]
}

// Slot returns the table index an id resolves to.
func Slot(id ID) int {
	return int(id) & (NumEnvs - 1)
}

// Lookup resolves an environment id. The zero id resolves to the calling
// environment. When checkPerm is set the caller must either be the target
// itself or its immediate parent. The permission model is intentionally
// weak: the parent pointer is the only capability.
func Lookup(id ID, checkPerm bool) (*Env, kernel.Errno) {
	cur := Current()

	if id == 0 {
		return cur, 0
	}

	e := &envs[Slot(id)]
	if e.Status == StatusFree || e.ID != id {
		return nil, kernel.ErrBadEnv
	}

	if checkPerm && e != cur && e.ParentID != cur.ID {
		return nil, kernel.ErrBadEnv
	}

	return e, 0
}

// Alloc reserves a free environment slot, assigns it a fresh id and a new
// address space, and marks it not-runnable. The caller is responsible for
// loading a trap frame into it.
func Alloc(parentID ID) (*Env, kernel.Errno) {
	e := freeList
	if e == nil {
		return nil, kernel.ErrNoFreeEnv
	}

	as, err := newAddressSpaceFn()
	if err != nil {
		return nil, kernel.ErrNoMem
	}

	freeList = e.nextFree
	e.nextFree = nil
	e.AS = as

	// Recycled slots advance the generation part of the id so that stale
	// ids for this slot stop resolving.
	newID := ID(uint32(e.ID)+(1<<generationShift)) &^ ID(NumEnvs-1)
	if newID <= 0 {
		newID = 1 << generationShift
	}
	e.ID = newID + ID(slotOf(e))

	e.ParentID = parentID
	e.Status = StatusNotRunnable
	e.Runs = 0
	e.PgfaultUpcall = 0
	e.IPCRecving = false
	e.IPCDstVA = 0
	e.IPCFrom = 0
	e.IPCValue = 0
	e.IPCPerm = 0

	e.SavedFrame = cpu.Trapframe{}
	e.SavedFrame.DS = uint16(cpu.SelectorUserDS)
	e.SavedFrame.ES = uint16(cpu.SelectorUserDS)
	e.SavedFrame.SS = uint16(cpu.SelectorUserDS)
	e.SavedFrame.CS = uint16(cpu.SelectorUserCS)
	e.SavedFrame.ESP = uint32(mm.UStackTop)
	e.SavedFrame.EFlags = cpu.FlagsIF

	return e, 0
}

// Free returns an environment to the free list after tearing down its
// address space. If the environment's address space is the active one, the
// kernel address space is activated first.
func Free(e *Env) {
	if cur := Current(); cur == e {
		activateKernelASFn()
	}

	releaseASFn(&e.AS)
	e.Status = StatusFree
	e.nextFree = freeList
	freeList = e
}

// Destroy tears down an environment. An environment running on another CPU
// cannot be reclaimed immediately; it is marked dying and reaped by the
// trap dispatcher on that CPU's next kernel entry. Destroy does not return
// when the destroyed environment is the caller.
func Destroy(e *Env) {
	cur := Current()

	if e.Status == StatusRunning && e != cur {
		e.Status = StatusDying
		return
	}

	Free(e)

	if e == cur {
		SetCurrent(nil)
		schedYieldFn()
	}
}

// Run dispatches an environment on the calling CPU. It publishes the
// environment as current, activates its address space, drops the big
// kernel lock and restores the saved trap frame. Run does not return.
func Run(e *Env) {
	if cur := Current(); cur != nil && cur.Status == StatusRunning {
		cur.Status = StatusRunnable
	}

	SetCurrent(e)
	e.Status = StatusRunning
	e.Runs++
	activateASFn(&e.AS)

	kernelLockReleaseFn()
	popTrapframeFn(&e.SavedFrame)
}

func slotOf(e *Env) int {
	return int((uintptr(unsafe.Pointer(e)) - uintptr(unsafe.Pointer(&envs[0]))) / unsafe.Sizeof(envs[0]))
}
