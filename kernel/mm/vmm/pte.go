package vmm

import (
	"github.com/jansone-dace/OSI-2019/kernel"
	"github.com/jansone-dace/OSI-2019/kernel/mm"
)

const (
	// pageLevels is the number of page table levels: a page directory
	// followed by a page table.
	pageLevels = 2

	// ptePhysPageMask is a mask that allows us to extract the physical
	// memory address pointed to by a page table entry.
	ptePhysPageMask = uintptr(0xfffff000)

	// pteFlagMask selects the flag bits of a page table entry.
	pteFlagMask = uintptr(0xfff)
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the MMU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the MMU when this page is modified.
	FlagDirty

	// FlagHugePage is set if when using 4Mb pages instead of 4K pages.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the page directory is switched.
	FlagGlobal

	// FlagCopyOnWrite is used to implement copy-on-write functionality. This
	// flag and FlagRW are mutually exclusive.
	FlagCopyOnWrite PageTableEntryFlag = 1 << 9
)

const (
	// FlagAvailable covers the entry bits reserved for software use.
	FlagAvailable PageTableEntryFlag = 0xe00

	// FlagSyscallMask lists the flags user environments may request when
	// mapping pages through the platform primitives.
	FlagSyscallMask = FlagAvailable | FlagPresent | FlagRW | FlagUserAccessible
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory
	// address that is not yet mapped, or to map a page outside the virtual
	// address space.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page", Code: -3}

	errRWMapCopyOnWrite = &kernel.Error{Module: "vmm", Message: "copy-on-write pages cannot be mapped with a RW flag", Code: -3}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// PageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags.
type PageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *PageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *PageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Flags returns the flag bits of the entry.
func (pte PageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uintptr(pte) & pteFlagMask)
}

// Frame returns the physical page frame that this page table entry points to.
func (pte PageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given physical frame .
func (pte *PageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (PageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}
