package heap

import (
	"github.com/vkngwrapper/kmem/memutils"
	"github.com/vkngwrapper/kmem/virt"
)

// placementAllocator bump-allocates from the placement window. Nothing it hands out is ever
// freed, and the memory behind it is only backed once Heap.Init maps the window.
type placementAllocator struct {
	next virt.Address
	end  virt.Address
}

func newPlacementAllocator(begin, end virt.Address) placementAllocator {
	return placementAllocator{next: begin, end: end}
}

// alloc rounds size up to a multiple of 4 and places it at the next address aligned to
// alignment. It returns false once the window is exhausted.
func (p *placementAllocator) alloc(size uint32, alignment uint32) (virt.Address, bool) {
	rounded := memutils.AlignUp(uint64(size), 4)
	current := memutils.AlignUp(uint64(p.next), uint64(alignment))

	if current+rounded > uint64(p.end) {
		return 0, false
	}

	p.next = virt.Address(current + rounded)
	return virt.Address(current), true
}

// cursor is the first address that has not been handed out
func (p *placementAllocator) cursor() virt.Address {
	return p.next
}

func (p *placementAllocator) remaining() uint32 {
	return uint32(p.end - p.next)
}
