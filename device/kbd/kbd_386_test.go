package kbd

import (
	"exocore/device/apic"
	"exocore/device/tty"
	"exocore/kernel/cpu"
	"exocore/kernel/hal"
	"exocore/kernel/trap"
	"testing"
)

func restoreKbdSeams() {
	portReadFn = cpu.PortReadByte
	eoiFn = apic.EOI
	activeTTYFn = hal.ActiveTTY
	handleIntrFn = trap.HandleInterrupt
}

func TestDecodeScancode(t *testing.T) {
	specs := []struct {
		scancode uint8
		exp      byte
	}{
		{0x1e, 'a'},
		{0x02, '1'},
		{0x1c, '\n'},
		{0x39, ' '},
		// Key release
		{0x1e | 0x80, 0},
		// Unmapped code
		{0x7f, 0},
	}

	for specIndex, spec := range specs {
		if got := DecodeScancode(spec.scancode); got != spec.exp {
			t.Errorf("[spec %d] expected scancode %x to decode to %q; got %q", specIndex, spec.scancode, spec.exp, got)
		}
	}
}

func TestKeyboardInterruptQueuesInput(t *testing.T) {
	defer restoreKbdSeams()

	var (
		drv      kbdDriver
		eoiCount int
	)

	term := tty.NewVT(tty.DefaultTabWidth, 0)
	activeTTYFn = func() tty.Device { return term }
	eoiFn = func() { eoiCount++ }

	// One pending 'a' press followed by its release.
	reads := []uint8{1, 0x1e, 1, 0x9e, 0}
	portReadFn = func(_ uint16) uint8 {
		val := reads[0]
		reads = reads[1:]
		return val
	}

	drv.onKeyboardInterrupt(nil)

	if got := term.ReadByte(); got != 'a' {
		t.Errorf("expected 'a' to be queued; got %q", got)
	}

	if got := term.ReadByte(); got != 0 {
		t.Errorf("expected the key release to queue nothing; got %q", got)
	}

	if eoiCount != 1 {
		t.Errorf("expected exactly one end-of-interrupt signal; got %d", eoiCount)
	}
}

func TestReadPolled(t *testing.T) {
	defer restoreKbdSeams()

	reads := []uint8{0}
	portReadFn = func(_ uint16) uint8 {
		val := reads[0]
		reads = reads[1:]
		return val
	}

	if got := ReadPolled(); got != 0 {
		t.Errorf("expected no key pending; got %q", got)
	}

	reads = []uint8{1, 0x30}
	if got := ReadPolled(); got != 'b' {
		t.Errorf("expected polled read to return 'b'; got %q", got)
	}
}
