package lib

import (
	"github.com/jansone-dace/OSI-2019/kernel"
	"github.com/jansone-dace/OSI-2019/kernel/mm"
	"github.com/jansone-dace/OSI-2019/kernel/mm/vmm"
)

var errPageOutOfRange = &kernel.Error{Module: "uvpt", Message: "page number beyond the top of the user address space"}

// checkPage panics if pn does not belong to the user address space.
func checkPage(pn mm.Page) {
	if uintptr(pn) >= mm.PageCount() {
		panic(errPageOutOfRange)
	}
}

// IsDirEntryPresent reports whether the page table covering pn exists.
func (rt *Runtime) IsDirEntryPresent(pn mm.Page) bool {
	checkPage(pn)
	return rt.sys.Uvpd(pn.DirIndex()).HasFlags(vmm.FlagPresent)
}

// IsPresent reports whether pn is mapped.
func (rt *Runtime) IsPresent(pn mm.Page) bool {
	return rt.IsDirEntryPresent(pn) && rt.sys.Uvpt(pn).HasFlags(vmm.FlagPresent)
}

// IsWritable reports whether pn is mapped writable.
func (rt *Runtime) IsWritable(pn mm.Page) bool {
	return rt.IsDirEntryPresent(pn) && rt.sys.Uvpt(pn).HasFlags(vmm.FlagPresent|vmm.FlagRW)
}

// IsCOW reports whether pn is mapped copy-on-write.
func (rt *Runtime) IsCOW(pn mm.Page) bool {
	return rt.IsDirEntryPresent(pn) && rt.sys.Uvpt(pn).HasFlags(vmm.FlagPresent|vmm.FlagCopyOnWrite)
}
