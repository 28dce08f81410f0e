package cpu

// Selector is a segment selector value. The low two bits encode the
// requested privilege level (RPL).
type Selector uint16

const (
	// SelectorKernelCS is the kernel code segment selector.
	SelectorKernelCS = Selector(0x08)

	// SelectorKernelDS is the kernel data segment selector.
	SelectorKernelDS = Selector(0x10)

	// SelectorUserCS is the user code segment selector with RPL 3.
	SelectorUserCS = Selector(0x18 | RPLUser)

	// SelectorUserDS is the user data segment selector with RPL 3.
	SelectorUserDS = Selector(0x20 | RPLUser)

	// gdtSlotTSS0 is the GDT slot used by the TSS descriptor for CPU 0.
	// The TSS descriptor for CPU i lives at gdtSlotTSS0 + i.
	gdtSlotTSS0 = 5

	// RPLUser is the requested privilege level for user-mode selectors.
	RPLUser = 3
)

// RPL returns the requested privilege level encoded in the selector.
func (s Selector) RPL() uint16 {
	return uint16(s & 3)
}

// TSSSelector returns the task-state segment selector for the CPU with the
// given index.
func TSSSelector(cpuIndex int) Selector {
	return Selector((gdtSlotTSS0 + cpuIndex) << 3)
}

// TSSGdtSlot returns the GDT slot holding the TSS descriptor for the CPU
// with the given index.
func TSSGdtSlot(cpuIndex int) int {
	return gdtSlotTSS0 + cpuIndex
}

const (
	// FlagsIF is the interrupt-enable bit in the EFLAGS register.
	FlagsIF = uint32(1 << 9)

	// FlagsIOPLMask masks the two I/O privilege level bits in EFLAGS.
	FlagsIOPLMask = uint32(3 << 12)
)
