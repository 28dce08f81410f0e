package kernel

// Errno describes an error condition that can be reported back to user
// environments. System calls place the negated Errno value in the
// accumulator register; non-negative values indicate success. The zero
// value reports success on kernel-internal paths. The numeric values are
// part of the kernel ABI and must remain stable.
type Errno int32

const (
	// ErrBadEnv is returned when an environment id cannot be resolved or
	// when the caller lacks permission to act on the target environment.
	ErrBadEnv Errno = 2

	// ErrInval is returned when a system call argument fails validation.
	ErrInval Errno = 3

	// ErrNoMem is returned when a physical frame or a page-table page
	// cannot be allocated.
	ErrNoMem Errno = 4

	// ErrNoFreeEnv is returned when the environment table is exhausted.
	ErrNoFreeEnv Errno = 5

	// ErrIPCNotRecv is returned by a send attempt when the destination
	// environment is not blocked in a receive.
	ErrIPCNotRecv Errno = 7

	// ErrNoSys is returned when the system call selector is unknown.
	ErrNoSys Errno = 9
)

// Code returns the value that gets stored in the accumulator register when
// a system call fails with this error.
func (e Errno) Code() int32 {
	return -int32(e)
}

// Error implements the error interface.
func (e Errno) Error() string {
	switch e {
	case ErrBadEnv:
		return "bad environment id or permission denied"
	case ErrInval:
		return "invalid argument"
	case ErrNoMem:
		return "out of memory"
	case ErrNoFreeEnv:
		return "no free environment slots"
	case ErrIPCNotRecv:
		return "destination not waiting for a message"
	case ErrNoSys:
		return "unknown system call"
	default:
		return "unspecified error"
	}
}
