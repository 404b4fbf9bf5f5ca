package env

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jansone-dace/OSI-2019/kernel/mm"
	"github.com/jansone-dace/OSI-2019/kernel/mm/vmm"
)

const xstackVA = mm.UXSTACKTOP - mm.PageSize

type recordingObserver struct {
	nopObserver
	faults []string
	forks  int
}

func (o *recordingObserver) PageFault(outcome string) { o.faults = append(o.faults, outcome) }
func (o *recordingObserver) Exofork(EnvID, EnvID)      { o.forks++ }

func TestLoadStoreAcrossPages(t *testing.T) {
	k := newTestKernel(t, nil)
	va := mm.UTEXT + mm.PageSize - 3
	payload := []byte("crosses a page boundary")

	runEnv(t, k, func(EnvID) {
		for _, page := range []uintptr{mm.UTEXT, mm.UTEXT + mm.PageSize} {
			if err := k.PageAlloc(0, page, permUW); err != nil {
				t.Error(err)
				return
			}
		}

		if err := k.Store(va, payload); err != nil {
			t.Error(err)
			return
		}

		got, err := k.Load(va, len(payload))
		if err != nil {
			t.Error(err)
			return
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("expected %q; got %q", payload, got)
		}
	})
}

func TestLoadOutsideEnv(t *testing.T) {
	k := newTestKernel(t, nil)

	if _, err := k.Load(mm.UTEXT, 1); err != ErrFault {
		t.Fatalf("expected ErrFault; got %v", err)
	}
	if err := k.Store(mm.UTEXT, []byte{1}); err != ErrFault {
		t.Fatalf("expected ErrFault; got %v", err)
	}
}

func TestAccessOutsideAddressSpace(t *testing.T) {
	obs := &recordingObserver{}
	k, err := New(Config{Frames: 64, MaxEnvs: 4, Observer: obs})
	if err != nil {
		t.Fatal(err)
	}

	top := uintptr(mm.AddressSpaceSize)

	runEnv(t, k, func(EnvID) {
		if err := k.PageAlloc(0, mm.UTEXT, permUW); err != nil {
			t.Error(err)
			return
		}
		if err := k.Store(mm.UTEXT, []byte("A")); err != nil {
			t.Error(err)
			return
		}

		specs := []struct {
			va     uintptr
			n      int
			store  bool
			expErr error
		}{
			{mm.UTEXT + top, 1, true, ErrFault},
			{mm.UTEXT + top, 1, false, ErrFault},
			{top - 1, 2, true, ErrFault},
			{top - 1, 2, false, ErrFault},
			{^uintptr(0), 1, false, ErrFault},
			{mm.UTEXT, -1, false, ErrInval},
		}

		for specIndex, spec := range specs {
			var err error
			if spec.store {
				err = k.Store(spec.va, bytes.Repeat([]byte("Z"), spec.n))
			} else {
				_, err = k.Load(spec.va, spec.n)
			}
			if err != spec.expErr {
				t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
			}
		}

		if got, _ := k.Load(mm.UTEXT, 1); string(got) != "A" {
			t.Errorf("expected UTEXT to still hold %q; got %q", "A", got)
		}
	})

	if len(obs.faults) != 0 {
		t.Fatalf("expected no page faults; got %v", obs.faults)
	}
}

func TestFaultDelivery(t *testing.T) {
	obs := &recordingObserver{}
	k, err := New(Config{Frames: 64, MaxEnvs: 4, Observer: obs})
	if err != nil {
		t.Fatal(err)
	}

	va := mm.UTEXT
	var (
		delivered []UTrapframe
		onStack   UTrapframe
		stored    bool
	)

	runEnv(t, k, func(EnvID) {
		if err := k.PageAlloc(0, xstackVA, permUW); err != nil {
			t.Error(err)
			return
		}
		if err := k.PageAlloc(0, va, vmm.FlagPresent|vmm.FlagUserAccessible); err != nil {
			t.Error(err)
			return
		}

		upcall := func(utf UTrapframe) {
			delivered = append(delivered, utf)

			raw, err := k.Load(mm.UXSTACKTOP-UTrapframeSize, UTrapframeSize)
			if err != nil {
				t.Error(err)
				return
			}
			if err := onStack.UnmarshalBinary(raw); err != nil {
				t.Error(err)
			}

			if err := k.PageAlloc(0, mm.RoundDown(utf.FaultVA), permUW); err != nil {
				t.Error(err)
			}
		}
		if err := k.EnvSetPgfaultUpcall(0, upcall); err != nil {
			t.Error(err)
			return
		}

		if err := k.Store(va+8, []byte{1}); err != nil {
			t.Error(err)
			return
		}
		if err := k.Store(va+8, []byte{2}); err != nil {
			t.Error(err)
			return
		}
		stored = true
	})

	if !stored {
		t.Fatal("expected env to survive the fault")
	}
	if len(delivered) != 1 {
		t.Fatalf("expected a single fault; got %d", len(delivered))
	}

	exp := UTrapframe{FaultVA: va + 8, Err: vmm.FaultPresent | vmm.FaultWrite | vmm.FaultUser, Esp: mm.USTACKTOP}
	if delivered[0] != exp {
		t.Fatalf("expected frame %+v; got %+v", exp, delivered[0])
	}
	if onStack != exp {
		t.Fatalf("expected exception stack to hold %+v; got %+v", exp, onStack)
	}
	if len(obs.faults) != 1 || obs.faults[0] != FaultDelivered {
		t.Fatalf("expected one delivered fault to be observed; got %v", obs.faults)
	}
}

func TestNestedFaults(t *testing.T) {
	k := newTestKernel(t, nil)
	outerVA, innerVA := mm.UTEXT, mm.UTEXT+mm.PageSize

	var frames []UTrapframe
	runEnv(t, k, func(EnvID) {
		if err := k.PageAlloc(0, xstackVA, permUW); err != nil {
			t.Error(err)
			return
		}

		upcall := func(utf UTrapframe) {
			frames = append(frames, utf)
			if utf.FaultVA == outerVA {
				// Touching an unmapped page from the handler faults again.
				if _, err := k.Load(innerVA, 1); err != nil {
					t.Error(err)
				}
			}
			if err := k.PageAlloc(0, utf.FaultVA, permUW); err != nil {
				t.Error(err)
			}
		}
		if err := k.EnvSetPgfaultUpcall(0, upcall); err != nil {
			t.Error(err)
			return
		}

		if _, err := k.Load(outerVA, 1); err != nil {
			t.Error(err)
		}
	})

	if len(frames) != 2 {
		t.Fatalf("expected two nested faults; got %d", len(frames))
	}
	if frames[0].Esp != mm.USTACKTOP {
		t.Fatalf("expected outer fault to record the normal stack; got %x", frames[0].Esp)
	}
	if exp := mm.UXSTACKTOP - UTrapframeSize; frames[1].Esp != exp {
		t.Fatalf("expected inner fault to record the outer frame at %x; got %x", exp, frames[1].Esp)
	}
	if frames[1].Err != vmm.FaultUser {
		t.Fatalf("expected a user read fault on a missing page; got %s", frames[1].Err.Reason())
	}
}

func TestFaultKillsEnv(t *testing.T) {
	specs := []struct {
		name    string
		xstack  bool
		handler bool
		upcalls int
	}{
		{"no upcall", true, false, 0},
		{"no exception stack", false, true, 0},
		{"unresolved", true, true, 1},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			var console bytes.Buffer
			obs := &recordingObserver{}
			k, err := New(Config{Frames: 64, MaxEnvs: 4, Console: &console, Observer: obs})
			if err != nil {
				t.Fatal(err)
			}
			total := k.FreeFrames()

			var upcalls int
			var survived bool
			id := runEnv(t, k, func(EnvID) {
				if spec.xstack {
					if err := k.PageAlloc(0, xstackVA, permUW); err != nil {
						t.Error(err)
						return
					}
				}
				if spec.handler {
					_ = k.EnvSetPgfaultUpcall(0, func(UTrapframe) { upcalls++ })
				}

				_ = k.Store(mm.UTEXT, []byte{1})
				survived = true
			})

			if survived {
				t.Fatal("expected env to be destroyed by the fault")
			}
			if upcalls != spec.upcalls {
				t.Fatalf("expected %d upcalls; got %d", spec.upcalls, upcalls)
			}
			if _, err := k.EnvInfo(id); err != ErrBadEnv {
				t.Fatalf("expected env to be freed; got %v", err)
			}
			if got := k.FreeFrames(); got != total {
				t.Fatalf("expected %d free frames; got %d", total, got)
			}
			if !strings.Contains(console.String(), "user fault va 00800000") {
				t.Fatalf("expected fault report on the console; got %q", console.String())
			}
			if last := obs.faults[len(obs.faults)-1]; last != FaultKilled {
				t.Fatalf("expected last fault outcome %q; got %q", FaultKilled, last)
			}
		})
	}
}

func TestExceptionStackOverflow(t *testing.T) {
	k := newTestKernel(t, nil)

	var depth int
	var survived bool
	runEnv(t, k, func(EnvID) {
		if err := k.PageAlloc(0, xstackVA, permUW); err != nil {
			t.Error(err)
			return
		}

		// The handler faults on every invocation until the exception
		// stack runs out.
		_ = k.EnvSetPgfaultUpcall(0, func(UTrapframe) {
			depth++
			_, _ = k.Load(mm.UTEXT, 1)
		})

		_, _ = k.Load(mm.UTEXT, 1)
		survived = true
	})

	if survived {
		t.Fatal("expected env to be destroyed")
	}
	if exp := int(mm.PageSize) / (UTrapframeSize + 4); depth < exp-1 || depth > exp+1 {
		t.Fatalf("expected roughly %d nested upcalls; got %d", exp, depth)
	}
}
