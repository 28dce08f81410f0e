package console

import (
	"exocore/kernel/cpu"
	"exocore/kernel/hal/multiboot"
	"exocore/kernel/mm/vmm"
)

var (
	// The following seams are overridden by tests.
	getFramebufferInfoFn = multiboot.GetFramebufferInfo
	mapRegionFn          = vmm.MapRegion
	portWriteByteFn      = cpu.PortWriteByte
)
