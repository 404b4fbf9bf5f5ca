// Package env implements the trusted layer of the platform: the environment
// table, the page mapping primitives user environments are allowed to call,
// read-only snapshots of their page tables, an emulated MMU that delivers
// page faults to user-mode handlers, and a single-CPU scheduler.
//
// Environment ids use 0 to refer to the calling environment. An environment
// may only manipulate itself and its immediate children.
package env

import (
	"encoding/binary"
	"fmt"

	"github.com/jansone-dace/OSI-2019/kernel"
	"github.com/jansone-dace/OSI-2019/kernel/kfmt"
	"github.com/jansone-dace/OSI-2019/kernel/mm"
	"github.com/jansone-dace/OSI-2019/kernel/mm/vmm"
)

const (
	// MaxEnvs is the largest supported environment table.
	MaxEnvs = 1 << logMaxEnvs

	logMaxEnvs = 10

	// genShift is the position of the lowest generation bit of an id.
	genShift = 12
)

var (
	// ErrBadEnv is returned when an environment id does not exist or the
	// caller has no permission to manipulate it.
	ErrBadEnv = &kernel.Error{Module: "env", Message: "bad environment", Code: -2}

	// ErrInval is returned for invalid primitive arguments.
	ErrInval = &kernel.Error{Module: "env", Message: "invalid parameter", Code: -3}

	// ErrNoFreeEnv is returned when the environment table is full.
	ErrNoFreeEnv = &kernel.Error{Module: "env", Message: "out of environments", Code: -5}

	// ErrFault is returned when an access cannot be completed.
	ErrFault = &kernel.Error{Module: "env", Message: "bad address", Code: -6}
)

// EnvID identifies an environment. The low bits index the environment table
// and the high bits hold a generation that changes every time a table slot
// is reused.
type EnvID int32

// Index returns the environment table index encoded in id.
func (id EnvID) Index() int {
	return int(id) & (MaxEnvs - 1)
}

// String implements fmt.Stringer.
func (id EnvID) String() string {
	return fmt.Sprintf("%08x", int32(id))
}

// Status describes the scheduling state of an environment.
type Status uint8

const (
	// Free marks an unused slot in the environment table.
	Free Status = iota

	// Dying marks an environment that was destroyed while it was not
	// running. It is reaped the next time the scheduler visits it.
	Dying

	// Runnable environments are eligible for scheduling.
	Runnable

	// Running is the status of the environment holding the CPU.
	Running

	// NotRunnable environments exist but are never scheduled.
	NotRunnable
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Free:
		return "free"
	case Dying:
		return "dying"
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case NotRunnable:
		return "not_runnable"
	default:
		return "unknown"
	}
}

// Trapframe is the saved user execution state of an environment. Resume is
// where execution continues once the environment is scheduled and Ret is the
// value it observes as the result of the call that saved the state.
type Trapframe struct {
	Resume func(ret EnvID)
	Ret    EnvID
}

// Upcall is a user-mode page fault entrypoint. It runs in the faulting
// environment after the platform has pushed utf onto the exception stack;
// when it returns the faulting access is retried.
type Upcall func(utf UTrapframe)

// UTrapframeSize is the number of bytes a UTrapframe occupies on the
// exception stack.
const UTrapframeSize = 12

// UTrapframe describes a page fault delivered to user mode.
type UTrapframe struct {
	// FaultVA is the faulting virtual address.
	FaultVA uintptr

	// Err holds the fault error code.
	Err vmm.FaultCode

	// Esp is the stack pointer of the faulting context.
	Esp uintptr
}

// MarshalBinary encodes the frame in the layout pushed onto the exception
// stack.
func (utf UTrapframe) MarshalBinary() ([]byte, error) {
	buf := make([]byte, UTrapframeSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(utf.FaultVA))
	binary.LittleEndian.PutUint32(buf[4:], uint32(utf.Err))
	binary.LittleEndian.PutUint32(buf[8:], uint32(utf.Esp))
	return buf, nil
}

// UnmarshalBinary decodes a frame read from the exception stack.
func (utf *UTrapframe) UnmarshalBinary(data []byte) error {
	if len(data) < UTrapframeSize {
		return ErrInval
	}
	utf.FaultVA = uintptr(binary.LittleEndian.Uint32(data[0:]))
	utf.Err = vmm.FaultCode(binary.LittleEndian.Uint32(data[4:]))
	utf.Esp = uintptr(binary.LittleEndian.Uint32(data[8:]))
	return nil
}

// Env is a slot in the environment table.
type Env struct {
	id       EnvID
	parentID EnvID
	status   Status
	runs     int

	pgdir  *vmm.PageDirectoryTable
	upcall Upcall
	tf     Trapframe

	// xesp is the exception stack pointer while a fault upcall is in
	// progress and 0 otherwise.
	xesp uintptr

	started bool
	wake    chan struct{}
	console kfmt.PrefixWriter
}

// Info is a read-only snapshot of an environment.
type Info struct {
	ID       EnvID
	ParentID EnvID
	Status   Status
	Runs     int

	// Pages is the number of pages mapped below UTOP.
	Pages int
}

func (e *Env) info() Info {
	return Info{ID: e.id, ParentID: e.parentID, Status: e.status, Runs: e.runs, Pages: e.mappedPages()}
}

// mappedPages counts the pages mapped in the user address space of e.
func (e *Env) mappedPages() int {
	var n int
	e.pgdir.Visit(mm.UTOP, func(mm.Page, vmm.PageTableEntry) bool {
		n++
		return true
	})
	return n
}

// userPerm validates the permission bits passed to a mapping primitive.
func userPerm(perm vmm.PageTableEntryFlag) bool {
	return perm&(vmm.FlagPresent|vmm.FlagUserAccessible) == vmm.FlagPresent|vmm.FlagUserAccessible &&
		perm&^vmm.FlagSyscallMask == 0 &&
		perm&(vmm.FlagRW|vmm.FlagCopyOnWrite) != vmm.FlagRW|vmm.FlagCopyOnWrite
}

// userVA validates a page-aligned user address passed to a mapping
// primitive.
func userVA(va uintptr) bool {
	return va < mm.UTOP && mm.PageOffset(va) == 0
}
