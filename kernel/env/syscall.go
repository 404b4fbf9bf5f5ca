package env

import (
	"runtime"

	"github.com/jansone-dace/OSI-2019/kernel/mm"
	"github.com/jansone-dace/OSI-2019/kernel/mm/vmm"
)

// GetEnvID returns the id of the calling environment or 0 when called
// outside of an environment.
func (k *Kernel) GetEnvID() EnvID {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.curenv == nil {
		return 0
	}
	return k.curenv.id
}

// Exofork creates a new environment whose saved execution state is a copy of
// tf with a return value of 0. The child has an empty address space, no
// fault upcall and is not runnable. The caller receives the child's id.
func (k *Kernel) Exofork(tf Trapframe) (EnvID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.curenv == nil {
		return 0, ErrBadEnv
	}

	child, err := k.envAlloc(k.curenv.id)
	if err != nil {
		k.log.Warn("exofork failed", "env", k.curenv.id.String(), "err", err)
		return 0, err
	}

	child.tf = tf
	child.tf.Ret = 0

	k.obs.Exofork(k.curenv.id, child.id)
	return child.id, nil
}

// EnvSetStatus sets the status of envid to Runnable or NotRunnable.
func (k *Kernel) EnvSetStatus(envid EnvID, status Status) error {
	if status != Runnable && status != NotRunnable {
		return ErrInval
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.envid2env(envid)
	if err != nil {
		return err
	}

	if e.status == Running || e.status == Dying {
		return ErrInval
	}
	e.status = status
	return nil
}

// EnvSetPgfaultUpcall registers upcall as the page fault entrypoint of envid.
func (k *Kernel) EnvSetPgfaultUpcall(envid EnvID, upcall Upcall) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.envid2env(envid)
	if err != nil {
		return err
	}

	e.upcall = upcall
	return nil
}

// EnvDestroy destroys envid. Destroying the calling environment does not
// return.
func (k *Kernel) EnvDestroy(envid EnvID) error {
	k.mu.Lock()

	e, err := k.envid2env(envid)
	if err != nil {
		k.mu.Unlock()
		return err
	}

	if e == k.curenv {
		k.log.Debug("env exiting", "env", e.id.String())
		k.envFree(e)
		k.mu.Unlock()
		runtime.Goexit()
	}

	k.log.Debug("env destroyed", "env", e.id.String(), "by", k.curenv.id.String())
	if e.started {
		e.status = Dying
	} else {
		k.envFree(e)
	}
	k.mu.Unlock()
	return nil
}

// PageAlloc maps a fresh zeroed page at va in envid's address space with
// permissions perm, replacing any existing mapping. perm must include
// FlagPresent and FlagUserAccessible and may only contain bits from
// vmm.FlagSyscallMask.
func (k *Kernel) PageAlloc(envid EnvID, va uintptr, perm vmm.PageTableEntryFlag) error {
	if !userVA(va) || !userPerm(perm) {
		return ErrInval
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.envid2env(envid)
	if err != nil {
		return err
	}

	return k.pageAlloc(e, va, perm)
}

func (k *Kernel) pageAlloc(e *Env, va uintptr, perm vmm.PageTableEntryFlag) error {
	frame, err := k.mem.AllocFrame()
	if err != nil {
		k.log.Warn("page alloc failed", "env", e.id.String(), "va", va, "err", err)
		return err
	}

	if err := e.pgdir.Map(mm.PageFromAddress(va), frame, perm); err != nil {
		_ = k.mem.FreeFrame(frame)
		k.log.Warn("page alloc failed", "env", e.id.String(), "va", va, "err", err)
		return err
	}

	k.obs.PageMapped(perm)
	k.obs.FramesInUse(k.mem.TotalFrames() - k.mem.FreeFrames())
	return nil
}

// PageMap maps the page backing srcva in srcenv's address space at dstva in
// dstenv's address space with permissions perm, replacing any mapping dstenv
// had at dstva. A read-only source page cannot be mapped writable.
func (k *Kernel) PageMap(srcenv EnvID, srcva uintptr, dstenv EnvID, dstva uintptr, perm vmm.PageTableEntryFlag) error {
	if !userVA(srcva) || !userVA(dstva) || !userPerm(perm) {
		return ErrInval
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	src, err := k.envid2env(srcenv)
	if err != nil {
		return err
	}
	dst, err := k.envid2env(dstenv)
	if err != nil {
		return err
	}

	pte, ok := src.pgdir.Lookup(mm.PageFromAddress(srcva))
	if !ok {
		return ErrInval
	}
	if perm&vmm.FlagRW != 0 && !pte.HasFlags(vmm.FlagRW) {
		return ErrInval
	}

	if err := dst.pgdir.Map(mm.PageFromAddress(dstva), pte.Frame(), perm); err != nil {
		k.log.Warn("page map failed", "src", src.id.String(), "dst", dst.id.String(), "va", dstva, "err", err)
		return err
	}

	k.obs.PageMapped(perm)
	k.obs.FramesInUse(k.mem.TotalFrames() - k.mem.FreeFrames())
	return nil
}

// PageUnmap removes the mapping at va in envid's address space. Unmapping a
// page that is not mapped succeeds silently.
func (k *Kernel) PageUnmap(envid EnvID, va uintptr) error {
	if !userVA(va) {
		return ErrInval
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.envid2env(envid)
	if err != nil {
		return err
	}

	e.pgdir.Unmap(mm.PageFromAddress(va))
	k.obs.FramesInUse(k.mem.TotalFrames() - k.mem.FreeFrames())
	return nil
}

// Cputs writes s to the console, prefixed with the caller's id.
func (k *Kernel) Cputs(s string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.curenv == nil {
		_, _ = k.console.Write([]byte(s))
		return
	}
	_, _ = k.curenv.console.Write([]byte(s))
}
