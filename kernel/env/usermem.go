package env

import (
	"exocore/kernel"
	"exocore/kernel/mm"
	"exocore/kernel/mm/vmm"
)

// CheckMemory verifies that the environment holds mappings carrying the
// requested permission bits (plus present and user access) for every page
// overlapping [va, va+size). Addresses reaching to or above UTop always
// fail: the kernel region is never user-accessible regardless of what the
// page tables say.
func CheckMemory(e *Env, va, size uintptr, need vmm.PageTableEntryFlag) kernel.Errno {
	if size == 0 {
		return 0
	}

	end := va + size
	if end < va || end > mm.UTop {
		return kernel.ErrInval
	}

	need |= vmm.FlagPresent | vmm.FlagUserAccessible

	for addr := va &^ (mm.PageSize - 1); addr < end; addr += mm.PageSize {
		_, flags, err := lookupASFn(&e.AS, mm.PageFromAddress(addr))
		if err != nil {
			return kernel.ErrInval
		}

		if flags&need != need {
			return kernel.ErrInval
		}
	}

	return 0
}
