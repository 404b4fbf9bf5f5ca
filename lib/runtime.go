// Package lib is the unprivileged runtime linked into every user program. It
// implements process duplication on top of the page mapping primitives of the
// platform: fork shares every page of the parent with the child and marks
// writable pages copy-on-write; a user-level page fault handler later gives
// the writer a private copy of the page.
package lib

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/jansone-dace/OSI-2019/kernel"
	"github.com/jansone-dace/OSI-2019/kernel/env"
	"github.com/jansone-dace/OSI-2019/kernel/kfmt"
	"github.com/jansone-dace/OSI-2019/kernel/mm"
	"github.com/jansone-dace/OSI-2019/kernel/mm/vmm"
)

// Syscalls lists the platform primitives used by the runtime. Environment id
// 0 refers to the caller.
type Syscalls interface {
	GetEnvID() env.EnvID
	PageAlloc(envid env.EnvID, va uintptr, perm vmm.PageTableEntryFlag) error
	PageMap(srcenv env.EnvID, srcva uintptr, dstenv env.EnvID, dstva uintptr, perm vmm.PageTableEntryFlag) error
	PageUnmap(envid env.EnvID, va uintptr) error
	Exofork(tf env.Trapframe) (env.EnvID, error)
	EnvSetPgfaultUpcall(envid env.EnvID, upcall env.Upcall) error
	EnvSetStatus(envid env.EnvID, status env.Status) error
	EnvDestroy(envid env.EnvID) error
	Yield()
}

// Snapshot is the read-only view of the caller's page directory and page
// tables.
type Snapshot interface {
	Uvpd(pdx uintptr) vmm.PageTableEntry
	Uvpt(page mm.Page) vmm.PageTableEntry
}

// Memory performs loads and stores in the caller's address space. Accesses
// that fault are delivered to the caller's page fault upcall.
type Memory interface {
	Load(va uintptr, n int) ([]byte, error)
	Store(va uintptr, p []byte) error
}

// Console writes to the system console.
type Console interface {
	Cputs(s string)
}

// Platform is everything a user program can ask of the platform.
type Platform interface {
	Syscalls
	Snapshot
	Memory
	Console
}

// Loader is a Platform that can start new programs.
type Loader interface {
	Platform
	Spawn(main func(self env.EnvID)) (env.EnvID, error)
}

// Handler is a user-level page fault handler. A non-nil error aborts the
// faulting environment.
type Handler func(rt *Runtime, utf env.UTrapframe) error

var (
	// exitFn terminates the calling environment's goroutine after it has
	// been destroyed. It is mocked by tests.
	exitFn = runtime.Goexit

	errNoHandler = &kernel.Error{Module: "pgfault", Message: "page fault upcall without a registered handler"}
)

// image is the state shared by every environment running the same program:
// the platform it runs on, the fault trampoline registered with the platform
// and the fault handler each environment installed.
type image struct {
	sys Platform
	log *slog.Logger

	mu       sync.Mutex
	handlers map[env.EnvID]Handler

	// trampoline is the upcall registered with the platform. It is the
	// same function value for every environment of the image.
	trampoline env.Upcall
}

func newImage(sys Platform, log *slog.Logger) *image {
	if log == nil {
		log = kfmt.DiscardLogger()
	}

	img := &image{
		sys:      sys,
		log:      log,
		handlers: make(map[env.EnvID]Handler),
	}
	img.trampoline = img.upcall
	return img
}

func (img *image) handler(id env.EnvID) Handler {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.handlers[id]
}

func (img *image) setHandler(id env.EnvID, h Handler) {
	img.mu.Lock()
	defer img.mu.Unlock()
	img.handlers[id] = h
}

// dropHandler forgets the handler of an environment that is exiting.
func (img *image) dropHandler(id env.EnvID) {
	img.mu.Lock()
	defer img.mu.Unlock()
	delete(img.handlers, id)
}

// upcall runs on the exception stack of the faulting environment. It
// dispatches the fault to the environment's handler and aborts the
// environment if the handler fails.
func (img *image) upcall(utf env.UTrapframe) {
	rt := img.runtime(img.sys.GetEnvID())

	h := img.handler(rt.thisenv)
	if h == nil {
		rt.Panic(errNoHandler)
		return
	}

	if err := h(rt, utf); err != nil {
		rt.Panic(err)
	}
}

func (img *image) runtime(self env.EnvID) *Runtime {
	return &Runtime{sys: img.sys, img: img, thisenv: self}
}

// Runtime is the per-environment handle user programs use to talk to the
// platform.
type Runtime struct {
	sys Platform
	img *image

	// thisenv is the id of the environment this Runtime belongs to.
	thisenv env.EnvID
}

// NewRuntime returns a Runtime for the environment currently running on sys.
func NewRuntime(sys Platform, log *slog.Logger) *Runtime {
	return newImage(sys, log).runtime(sys.GetEnvID())
}

// Start loads a program into a new environment of l. The environment runs
// main and exits when main returns.
func Start(l Loader, log *slog.Logger, main func(rt *Runtime)) (env.EnvID, error) {
	img := newImage(l, log)
	return l.Spawn(func(self env.EnvID) {
		main(img.runtime(self))
		img.dropHandler(self)
	})
}

// ID returns the id of the environment this Runtime belongs to.
func (rt *Runtime) ID() env.EnvID {
	return rt.thisenv
}

// Sys returns the platform the environment runs on.
func (rt *Runtime) Sys() Platform {
	return rt.sys
}

// Load reads n bytes at va.
func (rt *Runtime) Load(va uintptr, n int) ([]byte, error) {
	return rt.sys.Load(va, n)
}

// Store writes p at va.
func (rt *Runtime) Store(va uintptr, p []byte) error {
	return rt.sys.Store(va, p)
}

// Printf writes a formatted message to the console.
func (rt *Runtime) Printf(format string, args ...any) {
	rt.sys.Cputs(fmt.Sprintf(format, args...))
}

// Yield gives the CPU to another environment.
func (rt *Runtime) Yield() {
	rt.sys.Yield()
}

// Exit destroys the calling environment. Calls to Exit never return.
func (rt *Runtime) Exit() {
	rt.img.dropHandler(rt.thisenv)
	_ = rt.sys.EnvDestroy(0)
	exitFn()
}

// Panic reports err on the console and destroys the calling environment.
// Calls to Panic never return.
func (rt *Runtime) Panic(err error) {
	status := fmt.Sprintf("*** env %s exiting with status %d ***", rt.thisenv, kernel.StatusOf(err))
	rt.sys.Cputs(kfmt.Banner(err, status))
	rt.img.log.Error("env aborted", "env", rt.thisenv.String(), "err", err)

	rt.Exit()
}
