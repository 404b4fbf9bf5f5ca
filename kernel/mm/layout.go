package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// DirShift is equal to log2(PTSize); it selects the page directory
	// index bits of a virtual address.
	DirShift = uintptr(22)

	// EntriesPerTable is the number of entries in a page directory or a
	// page table.
	EntriesPerTable = 1024

	// PTSize is the number of bytes mapped by a single page directory
	// entry.
	PTSize = PageSize * EntriesPerTable

	// AddressSpaceSize is the size of the 32-bit virtual address space
	// translated by a page directory.
	AddressSpaceSize = uint64(PTSize) * EntriesPerTable
)

// User address space layout. Everything below UTOP belongs to the
// environment and may be mapped, unmapped and shared by user code through
// the platform primitives.
//
//	UTOP,UXSTACKTOP -> +------------------------------+ 0xeec00000
//	                   |     User Exception Stack     | PageSize
//	                   +------------------------------+ 0xeebff000
//	                   |        Empty guard page      | PageSize
//	       USTACKTOP -> +------------------------------+ 0xeebfe000
//	                   |      Normal User Stack       | PageSize
//	                   +------------------------------+ 0xeebfd000
//	                   .                              .
//	                   |  Program data, heap, text    |
//	           UTEXT -> +------------------------------+ 0x00800000
//	          PFTEMP -> |  Fault handler scratch page  | 0x007ff000
//	                   .                              .
//	           UTEMP -> +------------------------------+ 0x00400000
//	                   |     Empty (never mapped)     |
//	               0 -> +------------------------------+
const (
	// UTOP is the first address that is not part of the user address
	// space.
	UTOP = uintptr(0xeec00000)

	// UXSTACKTOP is the top of the one-page user exception stack.
	UXSTACKTOP = UTOP

	// USTACKTOP is the top of the normal user stack. The page between
	// USTACKTOP and the exception stack is a guard page.
	USTACKTOP = UTOP - 2*PageSize

	// UTEXT is where user programs are loaded.
	UTEXT = 2 * PTSize

	// UTEMP is a scratch region user code can use for temporary
	// mappings.
	UTEMP = PTSize

	// PFTEMP is the scratch page used by the user-level page fault
	// handler while it builds a private copy of a copy-on-write page.
	PFTEMP = UTEMP + PTSize - PageSize
)

// PDX returns the page directory index of a virtual address.
func PDX(virtAddr uintptr) uintptr {
	return (virtAddr >> DirShift) & (EntriesPerTable - 1)
}

// PTX returns the page table index of a virtual address.
func PTX(virtAddr uintptr) uintptr {
	return (virtAddr >> PageShift) & (EntriesPerTable - 1)
}

// PageCount returns the number of pages below UTOP.
func PageCount() uintptr {
	return UTOP >> PageShift
}

// InAddressSpace reports whether the n bytes starting at virtAddr lie inside
// the virtual address space.
func InAddressSpace(virtAddr uintptr, n int) bool {
	return n >= 0 && uint64(virtAddr) < AddressSpaceSize && uint64(n) <= AddressSpaceSize-uint64(virtAddr)
}
