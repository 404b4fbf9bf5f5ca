package vmm

import (
	"github.com/jansone-dace/OSI-2019/kernel"
	"github.com/jansone-dace/OSI-2019/kernel/mm"
	"github.com/jansone-dace/OSI-2019/kernel/mm/pmm"
)

// pageTable holds the entries of a single page table.
type pageTable [mm.EntriesPerTable]PageTableEntry

// PageDirectoryTable describes the top-most table in a two-level paging
// scheme together with the page tables it points to. Each page table is
// backed by a physical frame so that building page tables can exhaust
// physical memory just like mapping pages does.
type PageDirectoryTable struct {
	mem *pmm.Memory

	dir    pageTable
	tables [mm.EntriesPerTable]*pageTable
}

// NewPageDirectoryTable returns an empty page directory whose page tables
// and mapped frames are allocated from mem.
func NewPageDirectoryTable(mem *pmm.Memory) *PageDirectoryTable {
	return &PageDirectoryTable{mem: mem}
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments.  If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *PageTableEntry) bool

// walk performs a page table walk for the given virtual address. It calls the
// suppplied walkFn with the page table entry that corresponds to each page
// table level. The walk stops at the directory level if the page table is
// still missing after walkFn returns. Addresses outside the virtual address
// space are never walked.
func (pdt *PageDirectoryTable) walk(virtAddr uintptr, walkFn pageTableWalker) {
	if !mm.InAddressSpace(virtAddr, 1) {
		return
	}

	pdx := mm.PDX(virtAddr)
	if ok := walkFn(0, &pdt.dir[pdx]); !ok {
		return
	}

	table := pdt.tables[pdx]
	if table == nil {
		return
	}

	walkFn(pageLevels-1, &table[mm.PTX(virtAddr)])
}

// Map establishes a mapping between a virtual page and a physical memory
// frame, replacing any previous mapping of the page. Missing page tables are
// allocated on demand. The frame's reference count is incremented before the
// reference of the replaced frame is dropped so re-mapping a page onto its
// own frame with different flags is safe.
//
// Attempts to map a page with both FlagRW and FlagCopyOnWrite will result in
// an error.
func (pdt *PageDirectoryTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if flags&(FlagRW|FlagCopyOnWrite) == FlagRW|FlagCopyOnWrite {
		return errRWMapCopyOnWrite
	}
	if !mm.InAddressSpace(page.Address(), int(mm.PageSize)) {
		return ErrInvalidMapping
	}

	var err *kernel.Error

	pdt.walk(page.Address(), func(pteLevel uint8, pte *PageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as present
		if pteLevel == pageLevels-1 {
			pdt.mem.IncRef(frame)
			if pte.HasFlags(FlagPresent) {
				pdt.mem.DecRef(pte.Frame())
			}

			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags | FlagPresent)
			return true
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it.
		if !pte.HasFlags(FlagPresent) {
			var tableFrame mm.Frame
			if tableFrame, err = pdt.mem.AllocFrame(); err != nil {
				return false
			}
			pdt.mem.IncRef(tableFrame)

			*pte = 0
			pte.SetFrame(tableFrame)
			pte.SetFlags(FlagPresent | FlagRW | FlagUserAccessible)
			pdt.tables[page.DirIndex()] = new(pageTable)
		}

		return true
	})

	return err
}

// Unmap removes the mapping for page, if any, and drops the reference it
// held on its frame. Unmapping a page that is not mapped is a no-op.
func (pdt *PageDirectoryTable) Unmap(page mm.Page) {
	pdt.walk(page.Address(), func(pteLevel uint8, pte *PageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if pteLevel == pageLevels-1 {
			pdt.mem.DecRef(pte.Frame())
			*pte = 0
		}

		return true
	})
}

// Lookup returns the page table entry for page and true, or false if the page
// is not mapped.
func (pdt *PageDirectoryTable) Lookup(page mm.Page) (PageTableEntry, bool) {
	var entry PageTableEntry

	pdt.walk(page.Address(), func(pteLevel uint8, pte *PageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if pteLevel == pageLevels-1 {
			entry = *pte
		}
		return true
	})

	return entry, entry.HasFlags(FlagPresent)
}

// DirEntry returns a copy of the page directory entry at index pdx.
func (pdt *PageDirectoryTable) DirEntry(pdx uintptr) PageTableEntry {
	return pdt.dir[pdx]
}

// TableEntry returns a copy of the page table entry for page. A zero entry
// is returned when the page table does not exist.
func (pdt *PageDirectoryTable) TableEntry(page mm.Page) PageTableEntry {
	table := pdt.tables[page.DirIndex()]
	if table == nil {
		return 0
	}
	return table[mm.PTX(page.Address())]
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical page.
func (pdt *PageDirectoryTable) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, ok := pdt.Lookup(mm.PageFromAddress(virtAddr))
	if !ok {
		return 0, ErrInvalidMapping
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return pte.Frame().Address() + mm.PageOffset(virtAddr), nil
}

// Visit invokes visitFn for every present page below limit in ascending
// order. Page tables whose directory entry is not present are skipped as a
// whole. The visit stops early if visitFn returns false.
func (pdt *PageDirectoryTable) Visit(limit uintptr, visitFn func(page mm.Page, pte PageTableEntry) bool) {
	for pdx := uintptr(0); pdx < mm.EntriesPerTable; pdx++ {
		if pdx<<mm.DirShift >= limit {
			return
		}

		table := pdt.tables[pdx]
		if !pdt.dir[pdx].HasFlags(FlagPresent) || table == nil {
			continue
		}

		for ptx, pte := range table {
			page := mm.Page(pdx*mm.EntriesPerTable + uintptr(ptx))
			if page.Address() >= limit {
				return
			}

			if pte.HasFlags(FlagPresent) && !visitFn(page, pte) {
				return
			}
		}
	}
}

// Release removes every mapping and frees the page tables.
func (pdt *PageDirectoryTable) Release() {
	for pdx := range pdt.dir {
		if !pdt.dir[pdx].HasFlags(FlagPresent) {
			continue
		}

		if table := pdt.tables[pdx]; table != nil {
			for ptx := range table {
				if table[ptx].HasFlags(FlagPresent) {
					pdt.mem.DecRef(table[ptx].Frame())
				}
			}
		}

		pdt.mem.DecRef(pdt.dir[pdx].Frame())
		pdt.dir[pdx] = 0
		pdt.tables[pdx] = nil
	}
}
