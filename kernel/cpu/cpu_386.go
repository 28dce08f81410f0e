package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution until the next interrupt arrives.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page directory to point to the specified physical
// address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page
// directory.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register. After a page fault,
// CR2 holds the virtual address whose access faulted.
func ReadCR2() uint32

// LoadIDT loads the interrupt descriptor table register with the descriptor
// at the supplied address.
func LoadIDT(descriptorAddr uintptr)

// LoadTaskRegister loads the task register with the supplied segment
// selector.
func LoadTaskRegister(sel Selector)

// InstallTSS writes a 32-bit TSS descriptor for the supplied base address
// and limit into the given GDT slot. The descriptor is marked present with
// a system (non-code/data) type.
func InstallTSS(gdtSlot int, base uintptr, limit uint32)

// PortReadByte reads a byte from the given I/O port.
func PortReadByte(port uint16) uint8

// PortWriteByte writes a byte to the given I/O port.
func PortWriteByte(port uint16, val uint8)

// ID returns information about the CPU and its features. It is implemented
// as a CPUID instruction with EAX=leaf and returns the values in EAX, EBX,
// ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}
