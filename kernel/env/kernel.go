package env

import (
	"io"
	"log/slog"
	"sync"

	"github.com/jansone-dace/OSI-2019/kernel/kfmt"
	"github.com/jansone-dace/OSI-2019/kernel/mm"
	"github.com/jansone-dace/OSI-2019/kernel/mm/pmm"
	"github.com/jansone-dace/OSI-2019/kernel/mm/vmm"
)

// Fault outcomes reported to an Observer.
const (
	FaultDelivered = "delivered"
	FaultKilled    = "killed"
)

// Observer receives platform events. Implementations must not call back into
// the Kernel.
type Observer interface {
	EnvCreated(id EnvID)
	EnvFreed(id EnvID)
	Exofork(parent, child EnvID)
	PageFault(outcome string)
	PageMapped(perm vmm.PageTableEntryFlag)
	FramesInUse(n int)
}

type nopObserver struct{}

func (nopObserver) EnvCreated(EnvID)                  {}
func (nopObserver) EnvFreed(EnvID)                    {}
func (nopObserver) Exofork(EnvID, EnvID)              {}
func (nopObserver) PageFault(string)                  {}
func (nopObserver) PageMapped(vmm.PageTableEntryFlag) {}
func (nopObserver) FramesInUse(int)                   {}

// Config holds the machine parameters of a Kernel.
type Config struct {
	// Frames is the number of physical page frames.
	Frames int

	// MaxEnvs is the size of the environment table; it must not exceed
	// MaxEnvs.
	MaxEnvs int

	// Console receives user console output. Defaults to the kfmt output
	// sink.
	Console io.Writer

	// Logger receives platform events. Defaults to a discarding logger.
	Logger *slog.Logger

	// Observer receives platform events for metrics collection.
	Observer Observer
}

// Kernel is the simulated platform: physical memory, the environment table
// and a single CPU shared by all environments.
type Kernel struct {
	mu sync.Mutex

	mem  *pmm.Memory
	envs []Env

	// curenv is the environment holding the CPU; nil while the scheduler
	// runs.
	curenv *Env

	// lastIndex is the table index of the last scheduled environment.
	lastIndex int

	// yield is signalled by an environment goroutine when it gives the CPU
	// back to the scheduler.
	yield chan struct{}

	console io.Writer
	log     *slog.Logger
	obs     Observer
}

// New returns a Kernel configured with cfg.
func New(cfg Config) (*Kernel, error) {
	if cfg.Frames <= 0 || cfg.MaxEnvs <= 0 || cfg.MaxEnvs > MaxEnvs {
		return nil, ErrInval
	}

	k := &Kernel{
		mem:       pmm.New(cfg.Frames),
		envs:      make([]Env, cfg.MaxEnvs),
		lastIndex: -1,
		yield:     make(chan struct{}),
		console:   cfg.Console,
		log:       cfg.Logger,
		obs:       cfg.Observer,
	}

	if k.console == nil {
		k.console = kfmt.Writer()
	}
	if k.log == nil {
		k.log = kfmt.DiscardLogger()
	}
	if k.obs == nil {
		k.obs = nopObserver{}
	}

	return k, nil
}

// Spawn creates a runnable environment with a one-page normal stack below
// USTACKTOP. When scheduled, the environment runs main with its own id.
func (k *Kernel) Spawn(main func(self EnvID)) (EnvID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.envAlloc(0)
	if err != nil {
		return 0, err
	}

	if err := k.pageAlloc(e, mm.USTACKTOP-mm.PageSize, vmm.FlagPresent|vmm.FlagUserAccessible|vmm.FlagRW); err != nil {
		k.envFree(e)
		return 0, err
	}

	e.tf = Trapframe{Resume: main, Ret: e.id}
	e.status = Runnable
	return e.id, nil
}

// Envs returns a snapshot of all allocated environments.
func (k *Kernel) Envs() []Info {
	k.mu.Lock()
	defer k.mu.Unlock()

	var infos []Info
	for i := range k.envs {
		if k.envs[i].status != Free {
			infos = append(infos, k.envs[i].info())
		}
	}
	return infos
}

// EnvInfo returns a snapshot of environment id.
func (k *Kernel) EnvInfo(id EnvID) (Info, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return e.info(), nil
}

// Mapping returns the page table entry of environment id for va. It is a
// debugging aid and performs no permission checks.
func (k *Kernel) Mapping(id EnvID, va uintptr) (vmm.PageTableEntry, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.lookup(id)
	if err != nil {
		return 0, false
	}
	return e.pgdir.Lookup(mm.PageFromAddress(va))
}

// FreeFrames returns the number of unused physical frames.
func (k *Kernel) FreeFrames() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.mem.FreeFrames()
}

// envAlloc reserves the lowest free slot of the environment table. The new
// environment is NotRunnable and has an empty address space. Callers must
// hold k.mu.
func (k *Kernel) envAlloc(parentID EnvID) (*Env, error) {
	var (
		e     *Env
		index EnvID
	)
	for i := range k.envs {
		if k.envs[i].status == Free {
			e, index = &k.envs[i], EnvID(i)
			break
		}
	}
	if e == nil {
		return nil, ErrNoFreeEnv
	}

	// Generate an id for this environment.
	generation := (e.id + (1 << genShift)) &^ (MaxEnvs - 1)
	if generation <= 0 {
		generation = 1 << genShift
	}

	*e = Env{
		id:       generation | index,
		parentID: parentID,
		status:   NotRunnable,
		pgdir:    vmm.NewPageDirectoryTable(k.mem),
		wake:     make(chan struct{}),
	}
	e.console = kfmt.PrefixWriter{Sink: k.console, Prefix: []byte("[" + e.id.String() + "] ")}

	k.log.Debug("env created", "env", e.id.String(), "parent", parentID.String())
	k.obs.EnvCreated(e.id)
	return e, nil
}

// envFree releases the address space of e and returns its slot to the
// table. The id is kept so the next generation can be derived from it.
// Callers must hold k.mu.
func (k *Kernel) envFree(e *Env) {
	pages := e.mappedPages()
	e.pgdir.Release()
	e.status = Free
	e.upcall = nil
	e.tf = Trapframe{}
	e.xesp = 0

	k.log.Debug("env freed", "env", e.id.String(), "pages", pages)
	k.obs.EnvFreed(e.id)
	k.obs.FramesInUse(k.mem.TotalFrames() - k.mem.FreeFrames())
}

// lookup resolves id without permission checks. Callers must hold k.mu.
func (k *Kernel) lookup(id EnvID) (*Env, error) {
	if id == 0 {
		if k.curenv == nil {
			return nil, ErrBadEnv
		}
		return k.curenv, nil
	}

	index := id.Index()
	if index >= len(k.envs) {
		return nil, ErrBadEnv
	}

	e := &k.envs[index]
	if e.status == Free || e.id != id {
		return nil, ErrBadEnv
	}
	return e, nil
}

// envid2env resolves id for a primitive invoked by the current environment.
// The target must be the caller or one of its immediate children. Callers
// must hold k.mu.
func (k *Kernel) envid2env(id EnvID) (*Env, error) {
	e, err := k.lookup(id)
	if err != nil {
		return nil, err
	}

	if k.curenv == nil || (e != k.curenv && e.parentID != k.curenv.id) {
		return nil, ErrBadEnv
	}
	return e, nil
}
