package kernel

import "testing"

func TestErrnoCodes(t *testing.T) {
	specs := []struct {
		err     Errno
		expCode int32
	}{
		{ErrBadEnv, -2},
		{ErrInval, -3},
		{ErrNoMem, -4},
		{ErrNoFreeEnv, -5},
		{ErrIPCNotRecv, -7},
		{ErrNoSys, -9},
	}

	for specIndex, spec := range specs {
		if got := spec.err.Code(); got != spec.expCode {
			t.Errorf("[spec %d] expected code %d; got %d", specIndex, spec.expCode, got)
		}

		if spec.err.Error() == "unspecified error" {
			t.Errorf("[spec %d] expected a specific error message", specIndex)
		}
	}

	if got := Errno(42).Error(); got != "unspecified error" {
		t.Errorf("expected unknown errno to report an unspecified error; got %q", got)
	}
}
