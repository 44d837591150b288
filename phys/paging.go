package phys

//go:generate mockgen -source paging.go -destination mocks/paging.go -package mocks

// PagingControl is the contract over the processor's paging registers: the paging enable bit
// in CR0, the page directory base in CR3 and single-entry TLB invalidation. A kernel build
// backs it with assembly stubs; Registers is a software stand-in.
type PagingControl interface {
	EnablePaging(enable bool)
	IsPaging() bool
	LoadPageDirectoryBase(addr Address)
	PageDirectoryBase() Address
	InvalidatePage(virtualAddress uint32)
}

const (
	cr0PagingBit uint32 = 0x80000000
	cr3BaseMask  uint32 = 0xFFFFF000
)

// Registers holds CR0 and CR3 in memory and counts TLB invalidations
type Registers struct {
	CR0 uint32
	CR3 uint32

	invalidations int
}

var _ PagingControl = &Registers{}

func (r *Registers) EnablePaging(enable bool) {
	if enable {
		r.CR0 |= cr0PagingBit
	} else {
		r.CR0 &^= cr0PagingBit
	}
}

func (r *Registers) IsPaging() bool {
	return r.CR0&cr0PagingBit != 0
}

// LoadPageDirectoryBase writes CR3. Loading CR3 flushes every non-global TLB entry.
func (r *Registers) LoadPageDirectoryBase(addr Address) {
	r.CR3 = uint32(addr) & cr3BaseMask
}

func (r *Registers) PageDirectoryBase() Address {
	return Address(r.CR3 & cr3BaseMask)
}

func (r *Registers) InvalidatePage(virtualAddress uint32) {
	r.invalidations++
}

// Invalidations is the number of InvalidatePage calls seen so far
func (r *Registers) Invalidations() int {
	return r.invalidations
}
