package heap

import (
	"github.com/vkngwrapper/kmem/memutils"
	"github.com/vkngwrapper/kmem/virt"
)

// continuityCheck rejects placements of Continuous allocations whose pages are not backed by
// consecutive frames. A rejected candidate resumes at the first page of the next possible run.
type continuityCheck struct {
	heap *Heap
}

func (c continuityCheck) CheckPlacementAndAlignUp(allocOffset, allocSize, regionOffset, regionSize int, allocType uint32) (int, bool) {
	if !AllocFlags(allocType).IsContinuous() {
		return allocOffset, true
	}

	mapper := c.heap.mapper
	dir := mapper.Directory()

	first := memutils.AlignDown(allocOffset, virt.PageSize)
	last := memutils.AlignDown(allocOffset+allocSize-1, virt.PageSize)

	prev, ok := mapper.GetPhysicalAddress(dir, virt.Address(first))
	if !ok {
		return first + virt.PageSize, false
	}

	for page := first + virt.PageSize; page <= last; page += virt.PageSize {
		frame, ok := mapper.GetPhysicalAddress(dir, virt.Address(page))
		if !ok {
			return page + virt.PageSize, false
		}
		if frame != prev+virt.PageSize {
			return page, false
		}
		prev = frame
	}

	return allocOffset, true
}
