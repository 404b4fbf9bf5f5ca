package lib

import (
	"fmt"

	"github.com/jansone-dace/OSI-2019/kernel"
	"github.com/jansone-dace/OSI-2019/kernel/env"
	"github.com/jansone-dace/OSI-2019/kernel/mm"
)

var (
	// ErrProtocolViolation is returned for page faults the copy-on-write
	// handler cannot resolve: reads, and writes to pages that are not
	// copy-on-write.
	ErrProtocolViolation = &kernel.Error{Module: "fork", Message: "page fault is not a write to a copy-on-write page", Code: -6}

	// ErrResourceExhaustion is matched by every error caused by a failing
	// platform primitive.
	ErrResourceExhaustion = &kernel.Error{Module: "fork", Message: "platform primitive failed"}

	// ErrSforkNotImplemented is returned by Sfork.
	ErrSforkNotImplemented = &kernel.Error{Module: "fork", Message: "sfork not implemented", Code: -3}
)

// StepError reports the fork or fault handling step whose platform primitive
// failed. It matches both ErrResourceExhaustion and the primitive's error.
type StepError struct {
	Step string
	Err  error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v (status %d)", e.Step, e.Err, kernel.StatusOf(e.Err))
}

// Unwrap returns the primitive's error followed by ErrResourceExhaustion.
func (e *StepError) Unwrap() []error {
	return []error{e.Err, ErrResourceExhaustion}
}

// Child is the code a forked child runs. crt is bound to the child and ret is
// the value fork returned in the child, which is always 0.
type Child func(crt *Runtime, ret env.EnvID)

// duppage maps page pn of the caller into child at the same address. Pages
// that are writable or copy-on-write become copy-on-write in both
// environments; the caller's mapping is re-marked even if it already was
// copy-on-write. Read-only pages are shared read-only.
func duppage(rt *Runtime, child env.EnvID, pn mm.Page) error {
	va := pn.Address()

	if rt.IsWritable(pn) || rt.IsCOW(pn) {
		if err := rt.sys.PageMap(0, va, child, va, permCOW); err != nil {
			return &StepError{Step: fmt.Sprintf("duppage %08x into child", va), Err: err}
		}
		if err := rt.sys.PageMap(0, va, 0, va, permCOW); err != nil {
			return &StepError{Step: fmt.Sprintf("duppage %08x remap", va), Err: err}
		}
		return nil
	}

	if err := rt.sys.PageMap(0, va, child, va, permRO); err != nil {
		return &StepError{Step: fmt.Sprintf("duppage %08x into child", va), Err: err}
	}
	return nil
}

// Fork creates a child environment with a copy-on-write copy of the caller's
// address space and returns the child's id. The child starts by running
// child with a Runtime bound to itself. The child is only made runnable once
// its address space, exception stack and fault upcall are in place; if any
// step fails the error is returned and the child is never run.
func (rt *Runtime) Fork(child Child) (env.EnvID, error) {
	if err := rt.SetPgfaultHandler(pgfault); err != nil {
		return 0, err
	}

	// The child inherits the handler installed at the time of the fork.
	handler := rt.img.handler(rt.thisenv)

	envid, err := rt.sys.Exofork(env.Trapframe{
		Resume: func(ret env.EnvID) {
			crt := rt.img.runtime(rt.sys.GetEnvID())
			rt.img.setHandler(crt.thisenv, handler)
			child(crt, ret)
			rt.img.dropHandler(crt.thisenv)
		},
	})
	if err != nil {
		return 0, &StepError{Step: "exofork", Err: err}
	}

	if err := rt.dupAddressSpace(envid); err != nil {
		return 0, err
	}

	if err := rt.sys.PageAlloc(envid, mm.UXSTACKTOP-mm.PageSize, permRW); err != nil {
		return 0, &StepError{Step: "alloc child exception stack", Err: err}
	}
	if err := rt.sys.EnvSetPgfaultUpcall(envid, rt.img.trampoline); err != nil {
		return 0, &StepError{Step: "set child pgfault upcall", Err: err}
	}
	if err := rt.sys.EnvSetStatus(envid, env.Runnable); err != nil {
		return 0, &StepError{Step: "set child runnable", Err: err}
	}

	rt.img.log.Debug("forked", "parent", rt.thisenv.String(), "child", envid.String())
	return envid, nil
}

// dupAddressSpace shares every mapped page below the exception stack with
// child. Page tables whose directory entry is absent are skipped whole.
func (rt *Runtime) dupAddressSpace(child env.EnvID) error {
	limit := mm.PageFromAddress(mm.UXSTACKTOP - mm.PageSize)

	for pn := mm.Page(0); pn < limit; {
		if !rt.IsDirEntryPresent(pn) {
			pn = mm.Page((pn.DirIndex() + 1) * mm.EntriesPerTable)
			continue
		}

		if rt.IsPresent(pn) {
			if err := duppage(rt, child, pn); err != nil {
				return err
			}
		}
		pn++
	}

	return nil
}

// Sfork is the shared-memory variant of Fork. It is not implemented and
// returns ErrSforkNotImplemented without creating an environment.
func (rt *Runtime) Sfork(child Child) (env.EnvID, error) {
	return 0, ErrSforkNotImplemented
}
