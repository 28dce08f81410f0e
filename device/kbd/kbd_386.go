// Package kbd implements a PS/2 keyboard driver. Scancodes arrive on IRQ 1,
// get translated to ASCII and queue up on the active terminal where console
// reads pick them up.
package kbd

import (
	"exocore/device"
	"exocore/device/apic"
	"exocore/kernel"
	"exocore/kernel/cpu"
	"exocore/kernel/hal"
	"exocore/kernel/kfmt"
	"exocore/kernel/trap"
	"io"
)

const (
	// dataPort is the keyboard controller's output buffer.
	dataPort = uint16(0x60)

	// statusPort reports the controller state; bit 0 signals pending data.
	statusPort = uint16(0x64)

	statusOutputFull = uint8(1 << 0)

	// keyUp is set on scancodes reporting a key release.
	keyUp = uint8(0x80)
)

// usLayout translates set-1 scancodes for the main key block to ASCII.
// Unmapped codes translate to zero and are dropped.
var usLayout = [128]byte{
	0, 0x1b, '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', '-', '=', '\b',
	'\t', 'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o', 'p', '[', ']', '\n',
	0, 'a', 's', 'd', 'f', 'g', 'h', 'j', 'k', 'l', ';', '\'', '`',
	0, '\\', 'z', 'x', 'c', 'v', 'b', 'n', 'm', ',', '.', '/', 0,
	'*', 0, ' ',
}

var (
	// The following seams are overridden by tests.
	portReadFn   = cpu.PortReadByte
	eoiFn        = apic.EOI
	activeTTYFn  = hal.ActiveTTY
	handleIntrFn = trap.HandleInterrupt
)

// DecodeScancode translates a set-1 scancode to ASCII, returning zero for
// key releases and unmapped codes.
func DecodeScancode(scancode uint8) byte {
	if scancode&keyUp != 0 {
		return 0
	}

	return usLayout[scancode&^keyUp]
}

// ReadPolled reads one character by polling the controller directly,
// bypassing the interrupt path. The kernel monitor uses it while regular
// interrupt delivery is suspended. It returns zero with no key pending.
func ReadPolled() byte {
	if portReadFn(statusPort)&statusOutputFull == 0 {
		return 0
	}

	return DecodeScancode(portReadFn(dataPort))
}

type kbdDriver struct{}

// DriverName returns the name of this driver.
func (*kbdDriver) DriverName() string {
	return "ps2-kbd"
}

// DriverVersion returns the version of this driver.
func (*kbdDriver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit hooks the keyboard interrupt line.
func (drv *kbdDriver) DriverInit(w io.Writer) *kernel.Error {
	handleIntrFn(trap.IRQKeyboard, drv.onKeyboardInterrupt)
	kfmt.Fprintf(w, "hooked irq 1\n")
	return nil
}

// onKeyboardInterrupt drains the controller buffer into the active
// terminal's input queue.
func (drv *kbdDriver) onKeyboardInterrupt(_ *cpu.Trapframe) {
	for portReadFn(statusPort)&statusOutputFull != 0 {
		ch := DecodeScancode(portReadFn(dataPort))
		if ch == 0 {
			continue
		}

		if term := activeTTYFn(); term != nil {
			term.ReceiveByte(ch)
		}
	}

	eoiFn()
}

func probeForKbd() device.Driver {
	return &kbdDriver{}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderNormal,
		Probe: probeForKbd,
	})
}
