package acpi

import (
	"bytes"
	"exocore/device/acpi/table"
	"exocore/kernel"
	"exocore/kernel/cpu"
	"exocore/kernel/mm"
	"exocore/kernel/mm/vmm"
	"testing"
	"unsafe"
)

// fixTableChecksum recomputes the checksum byte (offset 9 of the common
// header) so that all table bytes sum to zero.
func fixTableChecksum(data []byte) {
	data[9] = 0

	var sum uint8
	for _, b := range data {
		sum += b
	}
	data[9] = uint8(0 - sum)
}

// makeSDT builds an ACPI table with the supplied signature and payload.
func makeSDT(signature string, payload []byte) []byte {
	headerSize := int(unsafe.Sizeof(table.SDTHeader{}))
	data := make([]byte, headerSize+len(payload))
	copy(data[0:4], signature)

	length := uint32(len(data))
	data[4] = byte(length)
	data[5] = byte(length >> 8)
	data[6] = byte(length >> 16)
	data[7] = byte(length >> 24)

	copy(data[headerSize:], payload)
	fixTableChecksum(data)

	return data
}

func restoreACPISeams() {
	mapFn = vmm.Map
	identityMapFn = vmm.IdentityMapRegion
	unmapFn = vmm.Unmap
	localAPICBase = 0
	cpu.Count = 1
}

// installIdentityMapMock makes mapACPITable resolve addresses directly in
// the test process: table addresses below len(tables)<<PageShift are decoded
// as (index << PageShift) | pageOffset references into the supplied table
// list; anything else is treated as a real host address.
func installIdentityMapMock(tables [][]byte) {
	identityMapFn = func(frame mm.Frame, _ uintptr, _ vmm.PageTableEntryFlag) (mm.Page, *kernel.Error) {
		if int(frame) < len(tables) {
			return mm.PageFromAddress(uintptr(unsafe.Pointer(&tables[frame][0]))), nil
		}

		return mm.Page(frame), nil
	}
}

// encodeTableRef encodes a reference to the table with the given index that
// survives the driver's 32-bit pointer truncation on a 64-bit test host.
func encodeTableRef(tables [][]byte, index int) uint32 {
	offset := uintptr(unsafe.Pointer(&tables[index][0])) & (mm.PageSize - 1)
	return uint32(uintptr(index)<<mm.PageShift | offset)
}

func TestDriverInitEnumeratesTablesAndMADT(t *testing.T) {
	defer restoreACPISeams()

	// MADT payload: local controller address, flags, then four entries:
	// two enabled processors, one disabled processor and one io-apic.
	madtPayload := []byte{
		0x00, 0x00, 0xe0, 0xfe, // local controller at 0xfee00000
		0x01, 0x00, 0x00, 0x00, // flags
		// type 0 (lapic), len 8, proc 0, apic 0, flags 1 (enabled)
		0x00, 0x08, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00,
		// type 0 (lapic), len 8, proc 1, apic 1, flags 1 (enabled)
		0x00, 0x08, 0x01, 0x01, 0x01, 0x00, 0x00, 0x00,
		// type 0 (lapic), len 8, proc 2, apic 2, flags 0 (disabled)
		0x00, 0x08, 0x02, 0x02, 0x00, 0x00, 0x00, 0x00,
		// type 1 (ioapic), len 12
		0x01, 0x0c, 0x00, 0x00, 0x00, 0x00, 0xc0, 0xfe, 0x00, 0x00, 0x00, 0x00,
	}

	tables := [][]byte{
		makeSDT("APIC", madtPayload),
		makeSDT("HPET", nil),
	}

	installIdentityMapMock(tables)

	// RSDT payload: 32-bit encoded pointers to the two tables.
	rsdtPayload := make([]byte, 8)
	for i := range tables {
		ref := encodeTableRef(tables, i)
		rsdtPayload[i*4+0] = byte(ref)
		rsdtPayload[i*4+1] = byte(ref >> 8)
		rsdtPayload[i*4+2] = byte(ref >> 16)
		rsdtPayload[i*4+3] = byte(ref >> 24)
	}
	rsdt := makeSDT("RSDT", rsdtPayload)

	drv := &acpiDriver{rsdtAddr: uintptr(unsafe.Pointer(&rsdt[0]))}

	var out bytes.Buffer
	if err := drv.DriverInit(&out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, signature := range []string{"APIC", "HPET"} {
		if drv.tableMap[signature] == nil {
			t.Errorf("expected table %q to be mapped", signature)
		}
	}

	if got := LocalAPICBase(); got != 0xfee00000 {
		t.Errorf("expected the MADT local controller address to be recorded; got %x", got)
	}

	// Two of the three processors are enabled.
	if cpu.Count != 2 {
		t.Errorf("expected 2 processors; got %d", cpu.Count)
	}
}

func TestDriverInitWithoutMADT(t *testing.T) {
	defer restoreACPISeams()

	tables := [][]byte{makeSDT("HPET", nil)}
	installIdentityMapMock(tables)

	rsdtPayload := make([]byte, 4)
	ref := encodeTableRef(tables, 0)
	rsdtPayload[0] = byte(ref)
	rsdtPayload[1] = byte(ref >> 8)
	rsdtPayload[2] = byte(ref >> 16)
	rsdtPayload[3] = byte(ref >> 24)
	rsdt := makeSDT("RSDT", rsdtPayload)

	drv := &acpiDriver{rsdtAddr: uintptr(unsafe.Pointer(&rsdt[0]))}

	var out bytes.Buffer
	if err := drv.DriverInit(&out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cpu.Count != 1 {
		t.Errorf("expected the processor count to stay at 1; got %d", cpu.Count)
	}

	if LocalAPICBase() != 0 {
		t.Error("expected no local APIC base without a MADT")
	}
}

func TestTableChecksumMismatchIsSkipped(t *testing.T) {
	defer restoreACPISeams()

	tables := [][]byte{makeSDT("HPET", nil)}
	tables[0][9]++ // corrupt the checksum
	installIdentityMapMock(tables)

	rsdtPayload := make([]byte, 4)
	ref := encodeTableRef(tables, 0)
	rsdtPayload[0] = byte(ref)
	rsdtPayload[1] = byte(ref >> 8)
	rsdtPayload[2] = byte(ref >> 16)
	rsdtPayload[3] = byte(ref >> 24)
	rsdt := makeSDT("RSDT", rsdtPayload)

	drv := &acpiDriver{rsdtAddr: uintptr(unsafe.Pointer(&rsdt[0]))}

	var out bytes.Buffer
	if err := drv.DriverInit(&out); err != nil {
		t.Fatalf("expected checksum mismatches to be skipped; got %v", err)
	}

	if drv.tableMap["HPET"] != nil {
		t.Error("expected the corrupt table to be left out of the table map")
	}
}

func TestLocateRSDT(t *testing.T) {
	defer func(rsdpLow, rsdpHi, rsdpAlign uintptr) {
		restoreACPISeams()
		rsdpLocationLow = rsdpLow
		rsdpLocationHi = rsdpHi
		rsdpAlignment = rsdpAlign
	}(rsdpLocationLow, rsdpLocationHi, rsdpAlignment)

	mapFn = func(_ mm.Page, _ mm.Frame, _ vmm.PageTableEntryFlag) *kernel.Error { return nil }
	unmapFn = func(_ mm.Page) *kernel.Error { return nil }

	// An ACPI 1.0 RSDP (revision byte 0) with a valid checksum.
	scanArea := make([]byte, 64)
	copy(scanArea, rsdpSignature[:])

	// Fill in the 32-bit RSDT address at offset 16 of the descriptor.
	scanArea[16] = 0x78
	scanArea[17] = 0x56
	scanArea[18] = 0x34
	scanArea[19] = 0x12

	// Fix the checksum over the 20-byte ACPI 1.0 descriptor.
	var sum uint8
	scanArea[8] = 0
	for _, b := range scanArea[:20] {
		sum += b
	}
	scanArea[8] = uint8(0 - sum)

	rsdpLocationLow = uintptr(unsafe.Pointer(&scanArea[0]))
	rsdpLocationHi = rsdpLocationLow + uintptr(len(scanArea))
	rsdpAlignment = 1

	rsdtAddr, useXSDT, err := locateRSDT()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if useXSDT {
		t.Error("expected an ACPI 1.0 descriptor to select the RSDT")
	}

	if rsdtAddr != 0x12345678 {
		t.Errorf("expected RSDT address 0x12345678; got %x", rsdtAddr)
	}

	// With no signature in the scan area the probe reports an error.
	scanArea[0] = 'X'
	if _, _, err = locateRSDT(); err != errMissingRSDP {
		t.Errorf("expected errMissingRSDP; got %v", err)
	}
}
