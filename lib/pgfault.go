package lib

import (
	"fmt"

	"github.com/jansone-dace/OSI-2019/kernel/env"
	"github.com/jansone-dace/OSI-2019/kernel/mm"
	"github.com/jansone-dace/OSI-2019/kernel/mm/vmm"
)

const (
	permRO  = vmm.FlagPresent | vmm.FlagUserAccessible
	permRW  = permRO | vmm.FlagRW
	permCOW = permRO | vmm.FlagCopyOnWrite
)

// SetPgfaultHandler installs h as the page fault handler of the calling
// environment. The first call also allocates the exception stack and
// registers the fault trampoline with the platform.
func (rt *Runtime) SetPgfaultHandler(h Handler) error {
	if rt.img.handler(rt.thisenv) == nil {
		if err := rt.sys.PageAlloc(0, mm.UXSTACKTOP-mm.PageSize, permRW); err != nil {
			return &StepError{Step: "alloc exception stack", Err: err}
		}
		if err := rt.sys.EnvSetPgfaultUpcall(0, rt.img.trampoline); err != nil {
			return &StepError{Step: "set pgfault upcall", Err: err}
		}
	}

	rt.img.setHandler(rt.thisenv, h)
	return nil
}

// pgfault gives the faulting environment a private, writable copy of a
// copy-on-write page. Any other fault is rejected.
func pgfault(rt *Runtime, utf env.UTrapframe) error {
	va := mm.RoundDown(utf.FaultVA)
	pn := mm.PageFromAddress(va)

	if utf.Err&vmm.FaultWrite == 0 || uintptr(pn) >= mm.PageCount() || !rt.IsCOW(pn) {
		return fmt.Errorf("%w: va %08x: %s", ErrProtocolViolation, utf.FaultVA, utf.Err.Reason())
	}

	// The copy is built at PFTEMP and then moved over va.
	if err := rt.sys.PageAlloc(0, mm.PFTEMP, permRW); err != nil {
		return &StepError{Step: "alloc PFTEMP", Err: err}
	}

	data, err := rt.sys.Load(va, int(mm.PageSize))
	if err != nil {
		return &StepError{Step: "read faulting page", Err: err}
	}
	if err := rt.sys.Store(mm.PFTEMP, data); err != nil {
		return &StepError{Step: "copy to PFTEMP", Err: err}
	}

	if err := rt.sys.PageMap(0, mm.PFTEMP, 0, va, permRW); err != nil {
		return &StepError{Step: "map PFTEMP", Err: err}
	}
	if err := rt.sys.PageUnmap(0, mm.PFTEMP); err != nil {
		return &StepError{Step: "unmap PFTEMP", Err: err}
	}

	return nil
}
