// Package apic implements a driver for the processors' local APIC. The
// local APIC delivers the end-of-interrupt signal, identifies the calling
// processor and drives the preemption timer.
package apic

import (
	"exocore/device"
	"exocore/device/acpi"
	"exocore/kernel"
	"exocore/kernel/cpu"
	"exocore/kernel/kfmt"
	"exocore/kernel/mm"
	"exocore/kernel/mm/vmm"
	"io"
	"unsafe"
)

// Local APIC register offsets from the mmio window base. Every register is
// 32 bits wide on a 16-byte stride.
const (
	regID            = 0x020
	regEOI           = 0x0b0
	regSpurious      = 0x0f0
	regTaskPriority  = 0x080
	regLVTTimer      = 0x320
	regTimerInitial  = 0x380
	regTimerDivide   = 0x3e0

	// defaultBase is the architectural local APIC mmio address used when
	// the ACPI tables do not supply one.
	defaultBase = uintptr(0xfee00000)

	// spuriousEnable turns the APIC on when written together with the
	// spurious vector number.
	spuriousEnable = 0x100

	// timerPeriodic makes the LVT timer re-arm itself after every fire.
	timerPeriodic = 0x20000

	// timerDivide16 selects a divide-by-16 timer clock.
	timerDivide16 = 0x3

	// timerInitialCount is the tick period in bus-clock/16 units.
	timerInitialCount = 10000000

	// Vector numbers the driver programs; they match the trap layer's
	// hardware-interrupt window.
	timerVector    = 32
	spuriousVector = 39
)

var (
	// mmioBase is the virtual address of the mapped register window.
	mmioBase uintptr

	// The following seams are overridden by tests.
	identityMapFn = vmm.IdentityMapRegion
	readRegFn     = readReg
	writeRegFn    = writeReg
)

func readReg(offset uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(mmioBase + offset))
}

func writeReg(offset uintptr, val uint32) {
	*(*uint32)(unsafe.Pointer(mmioBase + offset)) = val
}

// EOI signals completion of the in-service interrupt to the local APIC.
// Every hardware-interrupt handler must call it before re-dispatching.
func EOI() {
	writeRegFn(regEOI, 0)
}

// ID returns the local APIC id of the calling processor.
func ID() int {
	return int(readRegFn(regID) >> 24)
}

type lapicDriver struct {
	physAddr uintptr
}

// DriverName returns the name of this driver.
func (*lapicDriver) DriverName() string {
	return "lapic"
}

// DriverVersion returns the version of this driver.
func (*lapicDriver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit maps the register window, enables the APIC with the spurious
// vector, programs the periodic preemption timer and registers the CPU
// identity provider.
func (drv *lapicDriver) DriverInit(w io.Writer) *kernel.Error {
	page, err := identityMapFn(
		mm.FrameFromAddress(drv.physAddr),
		mm.PageSize,
		vmm.FlagPresent|vmm.FlagRW|vmm.FlagDoNotCache,
	)
	if err != nil {
		return err
	}

	mmioBase = page.Address() + vmm.PageOffset(drv.physAddr)

	writeRegFn(regSpurious, spuriousEnable|spuriousVector)
	writeRegFn(regTaskPriority, 0)

	writeRegFn(regTimerDivide, timerDivide16)
	writeRegFn(regLVTTimer, timerPeriodic|timerVector)
	writeRegFn(regTimerInitial, timerInitialCount)

	cpu.SetIndexProvider(cpuIndex)

	kfmt.Fprintf(w, "mapped lapic registers to 0x%x, apic id %d\n", mmioBase, ID())

	return nil
}

// cpuIndex maps the local APIC id to a per-CPU record index.
func cpuIndex() int {
	id := ID()
	if id >= cpu.Count {
		return 0
	}
	return id
}

func probeForLAPIC() device.Driver {
	base := acpi.LocalAPICBase()
	if base == 0 {
		base = defaultBase
	}

	return &lapicDriver{physAddr: base}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderACPI,
		Probe: probeForLAPIC,
	})
}
