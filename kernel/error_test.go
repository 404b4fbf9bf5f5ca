package kernel

import (
	"errors"
	"fmt"
	"testing"
)

func TestKernelError(t *testing.T) {
	err := &Error{
		Module:  "foo",
		Message: "error message",
	}

	if err.Error() != err.Message {
		t.Fatalf("expected to err.Error() to return %q; got %q", err.Message, err.Error())
	}
}

func TestStatusOf(t *testing.T) {
	errNoMem := &Error{Module: "pmm", Message: "out of memory", Code: -4}

	specs := []struct {
		err     error
		expCode int
	}{
		{nil, 0},
		{errors.New("plain error"), 0},
		{errNoMem, -4},
		{fmt.Errorf("page alloc: %w", errNoMem), -4},
	}

	for specIndex, spec := range specs {
		if got := StatusOf(spec.err); got != spec.expCode {
			t.Errorf("[spec %d] expected status %d; got %d", specIndex, spec.expCode, got)
		}
	}
}
