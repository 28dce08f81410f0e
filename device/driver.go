package device

import (
	"exocore/kernel"
	"io"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. Diagnostic output is
	// written to w.
	DriverInit(w io.Writer) *kernel.Error
}

// ProbeFn checks for the presence of a particular piece of hardware and
// returns a driver for it, or nil if the hardware is not present.
type ProbeFn func() Driver

// DetectOrder specifies when each driver probe is run relative to the other
// probes.
type DetectOrder int

// The supported detection orders. Drivers with equal order values are
// probed in registration order.
const (
	DetectOrderEarly      DetectOrder = -100
	DetectOrderBeforeACPI DetectOrder = -10
	DetectOrderACPI       DetectOrder = 0
	DetectOrderNormal     DetectOrder = 10
	DetectOrderLast       DetectOrder = 100
)

// DriverInfo associates a driver probe with its detection order.
type DriverInfo struct {
	// Order defines when the probe runs relative to the other probes.
	Order DetectOrder

	// Probe checks for the presence of the device and returns a driver
	// for it.
	Probe ProbeFn
}

// DriverInfoList is a sortable list of registered drivers.
type DriverInfoList []*DriverInfo

// Len returns the number of entries in the list.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 list entries.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less reports whether entry i must be probed before entry j.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

var registeredDrivers DriverInfoList

// RegisterDriver adds a driver to the list of registered drivers. Driver
// packages call it from their init blocks.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}
