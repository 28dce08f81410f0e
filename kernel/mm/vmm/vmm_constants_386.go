package vmm

import "math"

const (
	// pageLevels indicates the number of page levels supported by the 386
	// two-level paging scheme (page directory and page table).
	pageLevels = 2

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-31 contain the physical memory address.
	ptePhysPageMask = uintptr(0xfffff000)

	// tempMappingAddr is a reserved virtual page address used for
	// temporary physical page mappings (e.g. when mapping inactive PDT
	// pages). For 386 this address uses the following table indices:
	// 1022, 1023.
	tempMappingAddr = uintptr(0xffbff000)
)

var (
	// pdtVirtualAddr is a special virtual address that exploits the
	// recursive mapping used in the last PDT entry for each page directory
	// to allow accessing the PDT using the system's MMU address
	// translation mechanism. By setting all page level bits to 1 the MMU
	// keeps following the last PDT entry for all page levels landing on
	// the page directory itself.
	pdtVirtualAddr = uintptr(math.MaxUint32 &^ ((1 << 12) - 1))

	// pageLevelBits defines the number of virtual address bits that correspond to each
	// page level. For the 386 architecture each page level uses 10 bits which amounts to
	// 1024 entries for each page level.
	pageLevelBits = [pageLevels]uint8{
		10,
		10,
	}

	// pageLevelShifts defines the shift required to access each page table component
	// of a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		22,
		12,
	}
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set if when using 4Mb pages instead of 4K pages.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagCopyOnWrite is used to implement copy-on-write functionality for
	// kernel heap pages. This flag and FlagRW are mutually exclusive. It
	// occupies one of the OS-available entry bits.
	FlagCopyOnWrite = 1 << 9
)

// FlagOSAvailable is the OS-reserved entry bit that user environments are
// allowed to set on their own mappings.
const FlagOSAvailable = FlagCopyOnWrite

// UserFlagMask is the exact set of entry bits a user environment may request
// on a mapping. Any other bit is rejected.
const UserFlagMask = FlagPresent | FlagRW | FlagUserAccessible |
	FlagWriteThroughCaching | FlagDoNotCache | FlagOSAvailable
