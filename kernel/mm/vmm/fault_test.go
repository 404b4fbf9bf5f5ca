package vmm

import (
	"fmt"
	"testing"
)

func TestFaultCodeReason(t *testing.T) {
	specs := []struct {
		code      FaultCode
		expReason string
	}{
		{0, "read from non-present page"},
		{FaultPresent, "page protection violation (read)"},
		{FaultWrite, "write to non-present page"},
		{FaultPresent | FaultWrite, "page protection violation (write)"},
		{FaultUser | FaultWrite | FaultPresent, "page protection violation (write) in user-mode"},
		{0xf00, "unknown"},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			if got := spec.code.Reason(); got != spec.expReason {
				t.Fatalf("expected reason %q; got %q", spec.expReason, got)
			}
		})
	}
}
