package lib

import (
	"fmt"
	"strings"

	"github.com/jansone-dace/OSI-2019/kernel/env"
	"github.com/jansone-dace/OSI-2019/kernel/mm"
	"github.com/jansone-dace/OSI-2019/kernel/mm/vmm"
)

const (
	mockParent = env.EnvID(0x1000)
	mockChild  = env.EnvID(0x1001)
)

// mockPlatform records every primitive call and keeps a flat page table per
// environment. Calls listed in failOn return the associated error.
type mockPlatform struct {
	cur    env.EnvID
	calls  []string
	failOn map[string]error

	tables    map[env.EnvID]map[mm.Page]vmm.PageTableEntry
	frames    map[mm.Frame][]byte
	nextFrame mm.Frame

	forkTF  *env.Trapframe
	upcalls map[env.EnvID]env.Upcall
	status  map[env.EnvID]env.Status
	console strings.Builder
}

func newMockPlatform() *mockPlatform {
	return &mockPlatform{
		cur:    mockParent,
		failOn: make(map[string]error),
		tables: map[env.EnvID]map[mm.Page]vmm.PageTableEntry{
			mockParent: {},
		},
		frames:  make(map[mm.Frame][]byte),
		upcalls: make(map[env.EnvID]env.Upcall),
		status:  make(map[env.EnvID]env.Status),
	}
}

func (m *mockPlatform) record(format string, args ...any) error {
	call := fmt.Sprintf(format, args...)
	m.calls = append(m.calls, call)
	return m.failOn[call]
}

func (m *mockPlatform) resolve(id env.EnvID) env.EnvID {
	if id == 0 {
		return m.cur
	}
	return id
}

// mapPage installs a page with the given flags and contents in the table of
// id without recording a call.
func (m *mockPlatform) mapPage(id env.EnvID, va uintptr, perm vmm.PageTableEntryFlag, data []byte) {
	frame := m.nextFrame
	m.nextFrame++
	m.frames[frame] = make([]byte, mm.PageSize)
	copy(m.frames[frame], data)

	m.setEntry(id, va, frame, perm)
}

func (m *mockPlatform) setEntry(id env.EnvID, va uintptr, frame mm.Frame, perm vmm.PageTableEntryFlag) {
	var pte vmm.PageTableEntry
	pte.SetFrame(frame)
	pte.SetFlags(perm)

	if m.tables[id] == nil {
		m.tables[id] = make(map[mm.Page]vmm.PageTableEntry)
	}
	m.tables[id][mm.PageFromAddress(va)] = pte
}

func (m *mockPlatform) entry(id env.EnvID, va uintptr) (vmm.PageTableEntry, bool) {
	pte, ok := m.tables[id][mm.PageFromAddress(va)]
	return pte, ok
}

// count returns the number of recorded calls to the named primitives.
func (m *mockPlatform) count(names ...string) int {
	var n int
	for _, call := range m.calls {
		for _, name := range names {
			if strings.HasPrefix(call, name+"(") {
				n++
			}
		}
	}
	return n
}

func (m *mockPlatform) GetEnvID() env.EnvID { return m.cur }

func (m *mockPlatform) PageAlloc(envid env.EnvID, va uintptr, perm vmm.PageTableEntryFlag) error {
	if err := m.record("PageAlloc(%x, %08x, %03x)", int32(envid), va, perm); err != nil {
		return err
	}
	m.mapPage(m.resolve(envid), va, perm, nil)
	return nil
}

func (m *mockPlatform) PageMap(srcenv env.EnvID, srcva uintptr, dstenv env.EnvID, dstva uintptr, perm vmm.PageTableEntryFlag) error {
	if err := m.record("PageMap(%x, %08x, %x, %08x, %03x)", int32(srcenv), srcva, int32(dstenv), dstva, perm); err != nil {
		return err
	}

	pte, ok := m.entry(m.resolve(srcenv), srcva)
	if !ok {
		return env.ErrInval
	}
	m.setEntry(m.resolve(dstenv), dstva, pte.Frame(), perm)
	return nil
}

func (m *mockPlatform) PageUnmap(envid env.EnvID, va uintptr) error {
	if err := m.record("PageUnmap(%x, %08x)", int32(envid), va); err != nil {
		return err
	}
	delete(m.tables[m.resolve(envid)], mm.PageFromAddress(va))
	return nil
}

func (m *mockPlatform) Exofork(tf env.Trapframe) (env.EnvID, error) {
	if err := m.record("Exofork()"); err != nil {
		return 0, err
	}

	tf.Ret = 0
	m.forkTF = &tf
	m.tables[mockChild] = make(map[mm.Page]vmm.PageTableEntry)
	m.status[mockChild] = env.NotRunnable
	return mockChild, nil
}

func (m *mockPlatform) EnvSetPgfaultUpcall(envid env.EnvID, upcall env.Upcall) error {
	if err := m.record("EnvSetPgfaultUpcall(%x)", int32(envid)); err != nil {
		return err
	}
	m.upcalls[m.resolve(envid)] = upcall
	return nil
}

func (m *mockPlatform) EnvSetStatus(envid env.EnvID, status env.Status) error {
	if err := m.record("EnvSetStatus(%x, %s)", int32(envid), status); err != nil {
		return err
	}
	m.status[m.resolve(envid)] = status
	return nil
}

func (m *mockPlatform) EnvDestroy(envid env.EnvID) error {
	return m.record("EnvDestroy(%x)", int32(envid))
}

func (m *mockPlatform) Yield() {
	_ = m.record("Yield()")
}

func (m *mockPlatform) Uvpd(pdx uintptr) vmm.PageTableEntry {
	for page := range m.tables[m.cur] {
		if page.DirIndex() == pdx {
			return vmm.PageTableEntry(vmm.FlagPresent | vmm.FlagRW | vmm.FlagUserAccessible)
		}
	}
	return 0
}

func (m *mockPlatform) Uvpt(page mm.Page) vmm.PageTableEntry {
	return m.tables[m.cur][page]
}

func (m *mockPlatform) Load(va uintptr, n int) ([]byte, error) {
	if err := m.record("Load(%08x, %d)", va, n); err != nil {
		return nil, err
	}

	pte, ok := m.entry(m.cur, va)
	if !ok {
		return nil, env.ErrFault
	}
	off := mm.PageOffset(va)
	return append([]byte(nil), m.frames[pte.Frame()][off:off+uintptr(n)]...), nil
}

func (m *mockPlatform) Store(va uintptr, p []byte) error {
	if err := m.record("Store(%08x, %d)", va, len(p)); err != nil {
		return err
	}

	pte, ok := m.entry(m.cur, va)
	if !ok || !pte.HasFlags(vmm.FlagRW) {
		return env.ErrFault
	}
	copy(m.frames[pte.Frame()][mm.PageOffset(va):], p)
	return nil
}

func (m *mockPlatform) Cputs(s string) {
	m.console.WriteString(s)
}
