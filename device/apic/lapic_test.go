package apic

import (
	"bytes"
	"exocore/kernel"
	"exocore/kernel/cpu"
	"exocore/kernel/mm"
	"exocore/kernel/mm/vmm"
	"testing"
)

type regRecorder struct {
	regs map[uintptr]uint32
}

func (r *regRecorder) install() {
	r.regs = make(map[uintptr]uint32)
	readRegFn = func(offset uintptr) uint32 { return r.regs[offset] }
	writeRegFn = func(offset uintptr, val uint32) { r.regs[offset] = val }
}

func restoreLapicSeams() {
	identityMapFn = vmm.IdentityMapRegion
	readRegFn = readReg
	writeRegFn = writeReg
	cpu.SetIndexProvider(func() int { return 0 })
	cpu.Count = 1
}

func TestDriverInitProgramsLapic(t *testing.T) {
	defer restoreLapicSeams()

	var rec regRecorder
	rec.install()

	identityMapFn = func(frame mm.Frame, _ uintptr, flags vmm.PageTableEntryFlag) (mm.Page, *kernel.Error) {
		if flags&vmm.FlagDoNotCache == 0 {
			t.Error("expected the register window to be mapped uncached")
		}
		return mm.Page(frame), nil
	}

	drv := &lapicDriver{physAddr: defaultBase}

	var out bytes.Buffer
	if err := drv.DriverInit(&out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := rec.regs[regSpurious]; got != spuriousEnable|spuriousVector {
		t.Errorf("expected the spurious register to enable the apic; got %x", got)
	}

	if got := rec.regs[regLVTTimer]; got != timerPeriodic|timerVector {
		t.Errorf("expected a periodic timer on the clock vector; got %x", got)
	}

	if rec.regs[regTimerInitial] == 0 {
		t.Error("expected a non-zero timer initial count")
	}
}

func TestEOIAndID(t *testing.T) {
	defer restoreLapicSeams()

	var rec regRecorder
	rec.install()

	rec.regs[regID] = 2 << 24
	if got := ID(); got != 2 {
		t.Errorf("expected apic id 2; got %d", got)
	}

	EOI()
	if _, ok := rec.regs[regEOI]; !ok {
		t.Error("expected EOI to write the end-of-interrupt register")
	}
}

func TestCPUIndexClamping(t *testing.T) {
	defer restoreLapicSeams()

	var rec regRecorder
	rec.install()

	cpu.Count = 2

	rec.regs[regID] = 1 << 24
	if got := cpuIndex(); got != 1 {
		t.Errorf("expected cpu index 1; got %d", got)
	}

	// An apic id outside the per-CPU table falls back to the bootstrap
	// processor rather than indexing out of range.
	rec.regs[regID] = 7 << 24
	if got := cpuIndex(); got != 0 {
		t.Errorf("expected out-of-range apic ids to fall back to 0; got %d", got)
	}
}
