package env

import (
	"github.com/jansone-dace/OSI-2019/kernel/mm"
	"github.com/jansone-dace/OSI-2019/kernel/mm/vmm"
)

// Uvpd returns the caller's page directory entry at index pdx.
func (k *Kernel) Uvpd(pdx uintptr) vmm.PageTableEntry {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.curenv == nil || pdx >= mm.EntriesPerTable {
		return 0
	}
	return k.curenv.pgdir.DirEntry(pdx)
}

// Uvpt returns the caller's page table entry for page.
func (k *Kernel) Uvpt(page mm.Page) vmm.PageTableEntry {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.curenv == nil || page.Address() >= mm.UTOP {
		return 0
	}
	return k.curenv.pgdir.TableEntry(page)
}
