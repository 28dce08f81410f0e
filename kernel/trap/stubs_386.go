package trap

// The hardware entry stubs live in the assembly boot layer; one stub per
// vector in stubVectors. Each stub:
//  - pushes a zero error-code placeholder unless the CPU pushed one
//    (see hasErrorCode),
//  - pushes its vector number,
//  - jumps to a common tail that pushes the data- and extra-segment
//    selectors followed by all general-purpose registers via PUSHAL,
//    matching the cpu.Trapframe layout exactly,
//  - reloads DS/ES with the kernel data selector,
//  - pushes the current stack pointer (the address of the freshly built
//    frame) as the single argument and calls Dispatch.
//
// The frame layout is shared between the stubs and cpu.Trapframe; any
// deviation in field order, padding or size corrupts registers on the
// first kernel entry.

// stubAddress returns the entry address of the assembly stub for the given
// vector. The boot layer emits the stubs at fixed strides and exposes the
// lookup through this function.
func stubAddress(vector Vector) uintptr
