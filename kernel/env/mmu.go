package env

import (
	"runtime"

	"github.com/jansone-dace/OSI-2019/kernel/kfmt"
	"github.com/jansone-dace/OSI-2019/kernel/mm"
	"github.com/jansone-dace/OSI-2019/kernel/mm/vmm"
)

// Load reads n bytes starting at va from the caller's address space. Accesses
// that violate the page permissions raise a page fault which is delivered to
// the caller's upcall; the access is retried once the upcall returns.
// Ranges that leave the 32-bit address space fail with ErrFault.
func (k *Kernel) Load(va uintptr, n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrInval
	}
	if !mm.InAddressSpace(va, n) {
		return nil, ErrFault
	}

	buf := make([]byte, 0, n)
	for n > 0 {
		chunk := min(n, int(mm.PageSize-mm.PageOffset(va)))
		err := k.access(va, false, func(b []byte) {
			buf = append(buf, b[:chunk]...)
		})
		if err != nil {
			return nil, err
		}

		va += uintptr(chunk)
		n -= chunk
	}

	return buf, nil
}

// Store writes p starting at va into the caller's address space. Faults are
// handled like in Load.
func (k *Kernel) Store(va uintptr, p []byte) error {
	if !mm.InAddressSpace(va, len(p)) {
		return ErrFault
	}

	for len(p) > 0 {
		chunk := min(len(p), int(mm.PageSize-mm.PageOffset(va)))
		err := k.access(va, true, func(b []byte) {
			copy(b, p[:chunk])
		})
		if err != nil {
			return err
		}

		va += uintptr(chunk)
		p = p[chunk:]
	}

	return nil
}

// access translates va for the current environment and passes the bytes of
// the backing frame from va to the end of the page to fn. A faulting access
// is delivered to the environment and retried once; an access that still
// faults after the upcall returns destroys the environment.
func (k *Kernel) access(va uintptr, write bool, fn func(b []byte)) error {
	for attempt := 0; ; attempt++ {
		k.mu.Lock()

		e := k.curenv
		if e == nil {
			k.mu.Unlock()
			return ErrFault
		}

		pte, present := e.pgdir.Lookup(mm.PageFromAddress(va))
		if present && pte.HasFlags(vmm.FlagUserAccessible) && (!write || pte.HasFlags(vmm.FlagRW)) {
			fn(k.mem.Bytes(pte.Frame())[mm.PageOffset(va):])
			k.mu.Unlock()
			return nil
		}

		code := vmm.FaultUser
		if present {
			code |= vmm.FaultPresent
		}
		if write {
			code |= vmm.FaultWrite
		}

		if attempt > 0 {
			k.kill(e, va, code, "fault not resolved by upcall")
		}

		k.deliverFault(e, va, code)
	}
}

// deliverFault pushes a UTrapframe for the fault onto e's exception stack and
// runs e's upcall. Faults raised while the upcall runs push their frame below
// the current one, leaving a scratch word between the two frames. It must be
// called with k.mu held and returns with k.mu released.
func (k *Kernel) deliverFault(e *Env, va uintptr, code vmm.FaultCode) {
	if e.upcall == nil {
		k.kill(e, va, code, "no page fault upcall")
	}

	xstack, ok := e.pgdir.Lookup(mm.PageFromAddress(mm.UXSTACKTOP - mm.PageSize))
	if !ok || !xstack.HasFlags(vmm.FlagUserAccessible|vmm.FlagRW) {
		k.kill(e, va, code, "exception stack not mapped")
	}

	utf := UTrapframe{FaultVA: va, Err: code, Esp: mm.USTACKTOP}
	esp := mm.UXSTACKTOP
	if e.xesp != 0 {
		utf.Esp = e.xesp
		esp = e.xesp - 4
	}
	esp -= UTrapframeSize
	if esp < mm.UXSTACKTOP-mm.PageSize {
		k.kill(e, va, code, "exception stack overflow")
	}

	pa, err := e.pgdir.Translate(esp)
	if err != nil {
		k.kill(e, va, code, err.Message)
	}

	// The upcall receives the frame as read back from the exception stack.
	stack := k.mem.Bytes(mm.FrameFromAddress(pa))[mm.PageOffset(pa):]
	frame, _ := utf.MarshalBinary()
	copy(stack, frame)

	var pushed UTrapframe
	if err := pushed.UnmarshalBinary(stack); err != nil {
		k.kill(e, va, code, "corrupt exception frame")
	}

	prevEsp := e.xesp
	e.xesp = esp
	upcall := e.upcall

	k.log.Debug("page fault", "env", e.id.String(), "va", va, "reason", code.Reason(), "xesp", esp)
	k.obs.PageFault(FaultDelivered)
	k.mu.Unlock()

	upcall(pushed)

	k.mu.Lock()
	e.xesp = prevEsp
	k.mu.Unlock()
}

// kill destroys the faulting environment e and terminates its goroutine. It
// must be called with k.mu held and never returns.
func (k *Kernel) kill(e *Env, va uintptr, code vmm.FaultCode, reason string) {
	kfmt.Fprintf(&e.console, "user fault va %08x: %s\n", va, code.Reason())
	k.log.Warn("env killed", "env", e.id.String(), "va", va, "fault", code.Reason(), "reason", reason)
	k.obs.PageFault(FaultKilled)

	k.envFree(e)
	k.mu.Unlock()
	runtime.Goexit()
}
