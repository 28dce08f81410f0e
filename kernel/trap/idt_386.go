package trap

import (
	"exocore/kernel/cpu"
	"unsafe"
)

// gateDescriptor is an 8-byte IDT entry in the 386 hardware layout.
type gateDescriptor struct {
	offsetLow uint16
	selector  uint16
	zero      uint8

	// typeAttr packs the present bit, the descriptor privilege level and
	// the gate type (0xE selects a 32-bit interrupt gate, which keeps
	// interrupts disabled on entry).
	typeAttr   uint8
	offsetHigh uint16
}

const (
	gateTypeInterrupt = uint8(0x8e)
	gateDPLUser       = uint8(3 << 5)
)

var (
	// idt is the shared interrupt descriptor table. It is built exactly
	// once at boot and never written afterwards.
	idt [numVectors]gateDescriptor

	// idtDescriptor is the 6-byte limit/base operand consumed by the LIDT
	// instruction.
	idtDescriptor [6]byte

	// The following seams are overridden by tests.
	stubAddressFn      = stubAddress
	loadIDTFn          = cpu.LoadIDT
	loadTaskRegisterFn = cpu.LoadTaskRegister
	installTSSFn       = cpu.InstallTSS
)

// Init builds the interrupt descriptor table: one interrupt gate per stub
// vector, pointing at the vector's entry stub through the kernel code
// segment. All gates carry DPL 0 except the breakpoint and system-call
// gates, which carry DPL 3 so user code may invoke them. Init must run once
// on the bootstrap processor before any call to InitCPU.
func Init() {
	for _, vector := range stubVectors() {
		dpl := uint8(0)
		if vector == Breakpoint || vector == SyscallVector {
			dpl = gateDPLUser
		}

		setGate(vector, stubAddressFn(vector), dpl)
	}

	limit := uint16(numVectors*8 - 1)
	base := uintptr(unsafe.Pointer(&idt[0]))
	idtDescriptor[0] = byte(limit)
	idtDescriptor[1] = byte(limit >> 8)
	idtDescriptor[2] = byte(base)
	idtDescriptor[3] = byte(base >> 8)
	idtDescriptor[4] = byte(base >> 16)
	idtDescriptor[5] = byte(base >> 24)
}

// InitCPU binds the calling processor to its dedicated kernel stack and
// task state, and loads the shared IDT. It must run exactly once on every
// processor during its bring-up: loading the same task state on two CPUs is
// a fatal configuration error that manifests as a triple fault on the next
// privilege transition.
func InitCPU() {
	c := cpu.Current()

	c.BindKernelStack()
	installTSSFn(cpu.TSSGdtSlot(c.Index), uintptr(unsafe.Pointer(&c.TSS)), uint32(unsafe.Sizeof(c.TSS)-1))
	loadTaskRegisterFn(cpu.TSSSelector(c.Index))
	loadIDTFn(uintptr(unsafe.Pointer(&idtDescriptor[0])))
}

func setGate(vector Vector, handlerAddr uintptr, dpl uint8) {
	idt[vector] = gateDescriptor{
		offsetLow:  uint16(handlerAddr),
		selector:   uint16(cpu.SelectorKernelCS),
		typeAttr:   gateTypeInterrupt | dpl,
		offsetHigh: uint16(handlerAddr >> 16),
	}
}
