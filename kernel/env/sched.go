package env

import (
	"context"
	"runtime"
)

// Run schedules environments in round-robin order on a single simulated CPU
// until no environment is runnable or ctx is cancelled. Scheduling is
// cooperative: an environment keeps the CPU until it yields, exits or is
// destroyed, so cancellation takes effect at the next scheduling decision.
// Environments that are still alive when ctx is cancelled are destroyed.
func (k *Kernel) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			k.reap(true)
			return err
		}

		k.mu.Lock()
		e := k.pickNext()
		if e == nil {
			k.mu.Unlock()
			k.log.Debug("no runnable environments")
			k.reap(false)
			return nil
		}

		k.switchTo(e)
		<-k.yield
	}
}

// pickNext returns the next environment to run, starting after the one that
// ran last. Dying environments are picked so their goroutines can be reaped.
// Callers must hold k.mu.
func (k *Kernel) pickNext() *Env {
	for i := 1; i <= len(k.envs); i++ {
		index := (k.lastIndex + i) % len(k.envs)
		if e := &k.envs[index]; e.status == Runnable || e.status == Dying {
			k.lastIndex = index
			return e
		}
	}
	return nil
}

// switchTo hands the CPU to e. It must be called with k.mu held and returns
// with k.mu released.
func (k *Kernel) switchTo(e *Env) {
	if e.status == Runnable {
		e.status = Running
		e.runs++
	}
	k.curenv = e

	if e.started {
		k.mu.Unlock()
		e.wake <- struct{}{}
		return
	}

	e.started = true
	tf := e.tf
	k.mu.Unlock()
	go k.envMain(e, tf)
}

// envMain is the goroutine of an environment. The environment exits when its
// entrypoint returns.
func (k *Kernel) envMain(e *Env, tf Trapframe) {
	defer func() {
		r := recover()

		k.mu.Lock()
		if r != nil {
			k.log.Error("env panicked", "env", e.id.String(), "panic", r)
		}
		if k.curenv == e {
			if e.status != Free {
				k.envFree(e)
			}
			k.curenv = nil
		}
		k.mu.Unlock()

		k.yield <- struct{}{}
	}()

	tf.Resume(tf.Ret)
}

// Yield gives up the CPU. The caller stays runnable and resumes when the
// scheduler picks it again. A caller that was destroyed while it waited never
// returns.
func (k *Kernel) Yield() {
	k.mu.Lock()
	e := k.curenv
	if e == nil {
		k.mu.Unlock()
		return
	}
	if e.status == Running {
		e.status = Runnable
	}
	k.curenv = nil
	k.mu.Unlock()

	k.yield <- struct{}{}
	<-e.wake

	k.mu.Lock()
	if e.status == Dying {
		k.log.Debug("env reaped", "env", e.id.String())
		k.envFree(e)
		k.mu.Unlock()
		runtime.Goexit()
	}
	k.mu.Unlock()
}

// reap destroys every environment whose goroutine was started and is parked
// waiting for the CPU. If all is set, environments that never ran are freed
// as well.
func (k *Kernel) reap(all bool) {
	for {
		k.mu.Lock()

		var victim *Env
		for i := range k.envs {
			e := &k.envs[i]
			if e.status == Free {
				continue
			}
			if !e.started {
				if all {
					k.envFree(e)
				}
				continue
			}
			e.status = Dying
			victim = e
		}

		if victim == nil {
			k.mu.Unlock()
			return
		}

		k.switchTo(victim)
		<-k.yield
	}
}
