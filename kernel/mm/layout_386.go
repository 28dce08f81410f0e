package mm

// Virtual memory layout contract between the kernel and user environments.
// The user area ends at UTop; everything above it is only reachable from
// kernel mode.
const (
	// KernelBase is the lowest virtual address of the kernel's own image
	// mappings. Physical memory is remapped at this offset.
	KernelBase = uintptr(0xf0000000)

	// KStackTop is the top of the per-CPU kernel stack area. The stack
	// for CPU i occupies KStackSize bytes starting at
	// KStackTop - i*(KStackSize+KStackGap), with an unmapped guard of
	// KStackGap bytes below it.
	KStackTop = uintptr(0xefc00000)

	// KStackSize is the usable size of a kernel stack.
	KStackSize = uintptr(8 * PageSize)

	// KStackGap is the size of the unmapped guard region below each
	// kernel stack. Stack overruns fault instead of corrupting the next
	// CPU's stack.
	KStackGap = uintptr(8 * PageSize)

	// UTop is the highest virtual address a user environment may map or
	// pass to a system call.
	UTop = uintptr(0xeec00000)

	// UXStackTop is the top of the user exception stack. Page faults
	// taken in user mode are reflected onto the single page below it.
	UXStackTop = UTop

	// UStackTop is the top of the normal user stack. One unmapped page
	// separates it from the exception stack.
	UStackTop = UTop - 2*PageSize
)

// KStackTopForCPU returns the top of the kernel stack slot dedicated to the
// CPU with the given index.
func KStackTopForCPU(cpuIndex int) uintptr {
	return KStackTop - uintptr(cpuIndex)*(KStackSize+KStackGap)
}
