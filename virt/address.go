package virt

import (
	"fmt"

	"github.com/vkngwrapper/kmem/phys"
)

const (
	// PageSize is the size in bytes of a virtual page
	PageSize = phys.FrameSize
	// EntriesPerTable is the number of entries held by one page table or page directory
	EntriesPerTable = 1024
	// TableSpan is the number of bytes of address space covered by one page table
	TableSpan = EntriesPerTable * PageSize

	entrySize         = 4
	directoryShift    = 22
	tableShift        = phys.FrameShift
	indexMask         = EntriesPerTable - 1
	kernelVirtualBase = 0xC0000000
)

// KernelVirtualBase is where the higher-half kernel mapping begins
const KernelVirtualBase Address = kernelVirtualBase

// Address is a 32-bit virtual memory address
type Address uint32

// DirectoryIndex is the page directory slot whose table covers this address
func (a Address) DirectoryIndex() uint32 {
	return (uint32(a) >> directoryShift) & indexMask
}

// TableIndex is the entry within the covering page table that maps this address
func (a Address) TableIndex() uint32 {
	return (uint32(a) >> tableShift) & indexMask
}

// PageOffset is the distance in bytes from the start of the containing page
func (a Address) PageOffset() uint32 {
	return uint32(a) & (PageSize - 1)
}

// PageBase rounds the address down to the start of its page
func (a Address) PageBase() Address {
	return a &^ (PageSize - 1)
}

func (a Address) String() string {
	return fmt.Sprintf("0x%08x", uint32(a))
}

// AddressFromIndices rebuilds the virtual address of the page mapped by a directory slot and
// table entry
func AddressFromIndices(directoryIndex, tableIndex uint32) Address {
	return Address((directoryIndex&indexMask)<<directoryShift | (tableIndex&indexMask)<<tableShift)
}
