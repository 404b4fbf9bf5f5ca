package lib

import (
	"fmt"
	"testing"

	"github.com/jansone-dace/OSI-2019/kernel/mm"
	"github.com/jansone-dace/OSI-2019/kernel/mm/vmm"
)

func TestInspector(t *testing.T) {
	m := newMockPlatform()
	m.mapPage(mockParent, mm.UTEXT, permRW, nil)
	m.mapPage(mockParent, mm.UTEXT+mm.PageSize, permRO, nil)
	m.mapPage(mockParent, mm.UTEXT+2*mm.PageSize, permCOW, nil)
	// A non-present entry in an existing page table.
	m.setEntry(mockParent, mm.UTEXT+3*mm.PageSize, 0, vmm.FlagUserAccessible|vmm.FlagRW)

	rt := NewRuntime(m, nil)

	specs := []struct {
		va                          uintptr
		dir, present, writable, cow bool
	}{
		{mm.UTEXT, true, true, true, false},
		{mm.UTEXT + mm.PageSize, true, true, false, false},
		{mm.UTEXT + 2*mm.PageSize, true, true, false, true},
		{mm.UTEXT + 3*mm.PageSize, true, false, false, false},
		{mm.UTEXT + 4*mm.PageSize, true, false, false, false},
		{mm.UTEXT + mm.PTSize, false, false, false, false},
		{0, false, false, false, false},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			pn := mm.PageFromAddress(spec.va)

			if got := rt.IsDirEntryPresent(pn); got != spec.dir {
				t.Errorf("expected IsDirEntryPresent to be %t; got %t", spec.dir, got)
			}
			if got := rt.IsPresent(pn); got != spec.present {
				t.Errorf("expected IsPresent to be %t; got %t", spec.present, got)
			}
			if got := rt.IsWritable(pn); got != spec.writable {
				t.Errorf("expected IsWritable to be %t; got %t", spec.writable, got)
			}
			if got := rt.IsCOW(pn); got != spec.cow {
				t.Errorf("expected IsCOW to be %t; got %t", spec.cow, got)
			}
		})
	}

	if len(m.calls) != 0 {
		t.Fatalf("expected inspection not to call any primitive; got %v", m.calls)
	}
}

func TestInspectorOutOfRange(t *testing.T) {
	rt := NewRuntime(newMockPlatform(), nil)

	inspectors := []func(mm.Page) bool{
		rt.IsDirEntryPresent,
		rt.IsPresent,
		rt.IsWritable,
		rt.IsCOW,
	}

	for specIndex, inspect := range inspectors {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			defer func() {
				if err := recover(); err != errPageOutOfRange {
					t.Fatalf("expected to panic with errPageOutOfRange; got %v", err)
				}
			}()

			inspect(mm.PageFromAddress(mm.UTOP))
		})
	}
}
