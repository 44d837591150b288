package kmm

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/kmem/heap"
	"github.com/vkngwrapper/kmem/memutils"
	"github.com/vkngwrapper/kmem/phys"
	"github.com/vkngwrapper/kmem/virt"
	"golang.org/x/exp/slog"
)

// defaultComment labels allocations made without a comment
const defaultComment = "None"

// MemoryManager owns the frame allocator, the page mapper and the kernel heap of one machine and
// exposes the kmalloc family on top of them. It is created by New, which also performs the boot
// sequence.
//
// MemoryManager is not interrupt-safe. None of its methods may be called from an interrupt
// handler that could have interrupted another MemoryManager call.
type MemoryManager struct {
	logger      *slog.Logger
	createFlags CreateFlags

	memory phys.Memory
	paging phys.PagingControl
	frames *phys.FrameAllocator
	mapper *virt.Manager
	heap   *heap.Heap
}

// Frames returns the physical frame allocator
func (m *MemoryManager) Frames() *phys.FrameAllocator { return m.frames }

// Mapper returns the virtual memory mapper
func (m *MemoryManager) Mapper() *virt.Manager { return m.mapper }

// Heap returns the kernel heap
func (m *MemoryManager) Heap() *heap.Heap { return m.heap }

// Memory returns the physical memory page tables are written to
func (m *MemoryManager) Memory() phys.Memory { return m.memory }

// Paging returns the paging register contract the manager was created with
func (m *MemoryManager) Paging() phys.PagingControl { return m.paging }

// Kmalloc allocates size bytes from the kernel heap
func (m *MemoryManager) Kmalloc(size uint32) (virt.Address, bool) {
	return m.heap.Malloc(size, 0, defaultComment)
}

// KmallocAligned allocates size bytes from the kernel heap. flags carries the alignment in its
// low bits and optionally heap.WithinPage, heap.Within64K or heap.Continuous.
func (m *MemoryManager) KmallocAligned(size uint32, flags heap.AllocFlags) (virt.Address, bool) {
	return m.heap.Malloc(size, flags, defaultComment)
}

// KmallocCommented allocates size bytes from the kernel heap and labels the allocation with
// comment for diagnostics
func (m *MemoryManager) KmallocCommented(size uint32, comment string) (virt.Address, bool) {
	return m.heap.Malloc(size, 0, comment)
}

func (m *MemoryManager) KmallocAlignedCommented(size uint32, flags heap.AllocFlags, comment string) (virt.Address, bool) {
	return m.heap.Malloc(size, flags, comment)
}

// Kfree releases an allocation made by one of the Kmalloc methods. A zero address is ignored.
func (m *MemoryManager) Kfree(addr virt.Address) {
	m.heap.Free(addr)
}

// Validate checks the frame allocator and the heap for internal consistency
func (m *MemoryManager) Validate() error {
	err := m.frames.Validate()
	if err != nil {
		return errors.Wrap(err, "frame allocator")
	}

	err = m.heap.Validate()
	if err != nil {
		return err
	}

	return nil
}

// Statistics summarizes physical frame usage and the state of the kernel heap
type Statistics struct {
	TotalFrames uint32
	UsedFrames  uint32
	FreeFrames  uint32

	Heap memutils.DetailedStatistics
}

// CalculateStatistics retrieves current statistics for the frame allocator and the heap
func (m *MemoryManager) CalculateStatistics() Statistics {
	var stats Statistics
	stats.TotalFrames = m.frames.BlockCount()
	stats.UsedFrames = m.frames.UsedBlockCount()
	stats.FreeFrames = m.frames.FreeBlockCount()

	stats.Heap.Clear()
	m.heap.AddDetailedStatistics(&stats.Heap)
	return stats
}

// BuildStatsString returns a JSON document describing the frame allocator, the paging state and
// the heap. If detailedMap is true, every heap region and every page table is listed as well.
func (m *MemoryManager) BuildStatsString(detailedMap bool) string {
	m.logger.Debug("MemoryManager::BuildStatsString")

	writer := jwriter.NewWriter()
	rootObj := writer.Object()

	stats := m.CalculateStatistics()

	generalObj := rootObj.Name("General").Object()
	generalObj.Name("CreateFlags").String(m.createFlags.String())
	generalObj.Name("PagingEnabled").Bool(m.paging.IsPaging())
	generalObj.Name("PageDirectoryBase").String(m.paging.PageDirectoryBase().String())
	generalObj.End()

	totalObj := rootObj.Name("Total").Object()
	printStats(&totalObj, &stats)
	totalObj.End()

	framesObj := rootObj.Name("Frames").Object()
	m.frames.PrintJson(framesObj)
	framesObj.End()

	if detailedMap {
		pagingObj := rootObj.Name("Paging").Object()
		m.mapper.PrintJson(pagingObj)
		pagingObj.End()

		heapObj := rootObj.Name("Heap").Object()
		m.heap.PrintDetailedMap(heapObj)
		heapObj.End()
	}

	rootObj.End()
	return string(writer.Bytes())
}

func printStats(json *jwriter.ObjectState, stats *Statistics) {
	json.Name("TotalFrames").Int(int(stats.TotalFrames))
	json.Name("UsedFrames").Int(int(stats.UsedFrames))
	json.Name("FreeFrames").Int(int(stats.FreeFrames))

	json.Name("HeapRegions").Int(stats.Heap.RegionCount)
	json.Name("HeapAllocations").Int(stats.Heap.AllocationCount)
	json.Name("HeapBytes").Int(stats.Heap.TotalBytes)
	json.Name("HeapAllocationBytes").Int(stats.Heap.AllocationBytes)
	json.Name("HeapUnusedBytes").Int(stats.Heap.UnusedBytes())

	if stats.Heap.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.Heap.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.Heap.AllocationSizeMax)
	}
	if stats.Heap.UnusedRangeCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.Heap.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.Heap.UnusedRangeSizeMax)
	}
}
