package virt

import "github.com/vkngwrapper/kmem/phys"

// Directory is a page directory: 1024 entries in physical memory, each pointing at the page table
// covering 4MB of address space. The boot directory spans three frames; directories made with
// CreateAddressSpace span one.
type Directory struct {
	base   phys.Address
	frames uint32
}

// Base is the physical address loaded into the page directory base register
func (d *Directory) Base() phys.Address {
	return d.base
}

// FrameCount is the number of contiguous frames reserved for the directory
func (d *Directory) FrameCount() uint32 {
	return d.frames
}

func (d *Directory) entryAddress(index uint32) phys.Address {
	return d.base + phys.Address(index*entrySize)
}

func tableEntryAddress(table phys.Address, index uint32) phys.Address {
	return table + phys.Address(index*entrySize)
}
