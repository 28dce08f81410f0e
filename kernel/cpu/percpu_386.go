package cpu

import (
	"exocore/kernel/mm"
	"sync/atomic"
	"unsafe"
)

// MaxCPUs is the maximum number of processors supported by the kernel. It
// matches the number of dedicated kernel-stack slots below mm.KStackTop.
const MaxCPUs = 8

// Status tracks the bring-up state of a processor.
type Status uint32

const (
	// StatusHalted marks a CPU that is not executing kernel or user code.
	StatusHalted Status = iota

	// StatusStarted marks a CPU that has completed its bring-up.
	StatusStarted
)

// TaskState is the 32-bit task-state segment. The CPU reads ESP0/SS0 from
// it when a trap raises the privilege level to ring 0. The field order and
// padding are dictated by the hardware layout.
type TaskState struct {
	Link uint32
	ESP0 uint32
	SS0  uint16
	pad0 uint16
	ESP1 uint32
	SS1  uint16
	pad1 uint16
	ESP2 uint32
	SS2  uint16
	pad2 uint16
	CR3  uint32
	EIP  uint32
	EFlags uint32
	EAX  uint32
	ECX  uint32
	EDX  uint32
	EBX  uint32
	ESP  uint32
	EBP  uint32
	ESI  uint32
	EDI  uint32
	ES   uint16
	pad3 uint16
	CS   uint16
	pad4 uint16
	SS   uint16
	pad5 uint16
	DS   uint16
	pad6 uint16
	FS   uint16
	pad7 uint16
	GS   uint16
	pad8 uint16
	LDT  uint16
	pad9 uint16
	Trap uint16

	// IOMapBase is the offset of the I/O permission bitmap; pointing it
	// past the segment limit disables port access from user mode.
	IOMapBase uint16
}

// CPU is a processor-local record. Each CPU writes only its own record
// (except for the status word, which bring-up code transitions with atomic
// operations).
type CPU struct {
	// Index is the position of this record inside the CPUs array.
	Index int

	// TSS holds the kernel stack pointer used on privilege transitions.
	// Loading the same TSS on two CPUs is a fatal configuration error.
	TSS TaskState

	status Status
}

var (
	// CPUs holds the per-CPU records. Entries past Count are unused.
	CPUs [MaxCPUs]CPU

	// Count is the number of processors detected at boot. It defaults to
	// one and is raised by the platform CPU enumeration.
	Count = 1

	// indexFn returns the index of the calling processor. The boot path
	// replaces it with a function backed by the local APIC id register.
	indexFn = func() int { return 0 }
)

// SetIndexProvider registers the function used to identify the calling
// processor. It is invoked by the local APIC driver once the APIC mmio
// window is mapped.
func SetIndexProvider(fn func() int) {
	indexFn = fn
}

// Current returns the record of the calling processor.
func Current() *CPU {
	return &CPUs[indexFn()]
}

// Status returns the bring-up state of the CPU.
func (c *CPU) Status() Status {
	return Status(atomic.LoadUint32((*uint32)(unsafe.Pointer(&c.status))))
}

// MarkStarted atomically transitions the CPU status to StatusStarted and
// returns the previous status.
func (c *CPU) MarkStarted() Status {
	return Status(atomic.SwapUint32((*uint32)(unsafe.Pointer(&c.status)), uint32(StatusStarted)))
}

// MarkHalted atomically transitions the CPU status back to StatusHalted.
func (c *CPU) MarkHalted() {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&c.status)), uint32(StatusHalted))
}

// BindKernelStack points the TSS at this CPU's dedicated kernel stack slot
// so that privilege transitions land on it.
func (c *CPU) BindKernelStack() {
	c.TSS.ESP0 = uint32(mm.KStackTopForCPU(c.Index))
	c.TSS.SS0 = uint16(SelectorKernelDS)
	c.TSS.IOMapBase = uint16(unsafe.Sizeof(c.TSS))
}
