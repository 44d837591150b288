package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/kmem/memutils"
)

// BlockMetadata represents a single contiguous range of address space carved into regions. It
// manages allocations within the range, allowing them to be requested and freed, as well as
// enumerated and queried. Offsets are absolute: the first region begins at the origin the
// metadata was created with.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. It sizes the managed range in bytes; a
	// size of 0 is valid and leaves the metadata without regions until Extend is called.
	Init(size int)
	// Size retrieves the number of bytes currently managed
	Size() int
	// Origin is the offset of the first byte of the managed range
	Origin() int

	// Validate performs internal consistency checks on the metadata. These checks may be expensive, depending
	// on the implementation. When the implementation is functioning correctly, it should not be possible
	// for this method to return an error, but this may assist in diagnosing issues with the implementation.
	Validate() error
	// AllocationCount returns the number of allocations currently live in the implementation
	AllocationCount() int
	// FreeRegionsCount returns the number of unique regions of free memory in the block. Adjacent free
	// regions are always merged, so no two free regions are ever neighbors.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free bytes of memory in the block.
	SumFreeSize() int
	// IsEmpty will return true if this block has no live allocations
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each allocation and free region in
	// address order. This walks the whole table and should generally only be used for diagnostics.
	VisitAllRegions(handleRegion func(handle BlockAllocationHandle, offset int, size int, comment string, free bool) error) error

	// AddDetailedStatistics sums this block's allocation statistics into the statistics currently present
	// in the provided memutils.DetailedStatistics object.
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this block's allocation statistics into the statistics currently present in the
	// provided memutils.Statistics object.
	AddStatistics(stats *memutils.Statistics)
	// BlockJsonData populates a json object with information about this block
	BlockJsonData(json jwriter.ObjectState)

	// Extend adds size bytes of free space to the end of the managed range. It returns false if the
	// space could not be recorded.
	Extend(size int) bool

	// CreateAllocationRequest retrieves an AllocationRequest object indicating where the implementation
	// would place the requested memory. That object can be passed to Alloc to commit the allocation.
	//
	// allocSize - the size in bytes of the requested allocation
	// allocAlignment - the alignment of the requested allocation. Must be a power of two; 0 and 1 both
	// mean no alignment.
	// boundary - if not 0, a power of two: the allocation must not straddle a multiple of boundary
	// allocType - consumer-specific value passed through to the PlacementCheck
	CreateAllocationRequest(allocSize int, allocAlignment uint, boundary int, allocType uint32) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest object, creating the allocation within the block based
	// on the data described in the AllocationRequest. The implementation must return an error if the
	// allocation is no longer valid- i.e. the requested free region no longer exists, is not free,
	// or is no longer large enough to support the request.
	Alloc(request AllocationRequest, comment string) (BlockAllocationHandle, error)

	// FreeAt frees the live allocation that begins at offset, causing it to become a free region once
	// again. It returns false if no live allocation begins there.
	FreeAt(offset int) (BlockAllocationHandle, bool)
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations in the memutils module.
type BlockMetadataBase struct {
	size           int
	origin         int
	placementCheck PlacementCheck
}

// NewBlockMetadata creates a new BlockMetadataBase from an origin offset and placement handler.
// See PlacementCheck for more information. If your memory system has no placement requirements,
// use NoPlacementCheck.
func NewBlockMetadata(origin int, placementCheck PlacementCheck) BlockMetadataBase {
	return BlockMetadataBase{
		size:           0,
		origin:         origin,
		placementCheck: placementCheck,
	}
}

// Init prepares this structure for allocations and sizes the block in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the block in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

func (m *BlockMetadataBase) Origin() int { return m.origin }

func (m *BlockMetadataBase) printDetailedMap_Header(json jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}

func (m *BlockMetadataBase) printDetailedMap_UnusedRange(json *jwriter.ArrayState, offset, size int) {
	obj := json.Object()
	defer obj.End()

	obj.Name("Offset").Int(offset)
	obj.Name("Type").String("Free")
	obj.Name("Size").Int(size)
}

func (m *BlockMetadataBase) printDetailedMap_Allocation(json *jwriter.ArrayState, handle BlockAllocationHandle, offset, size int, comment string) {
	obj := json.Object()
	defer obj.End()

	obj.Name("Offset").Int(offset)
	obj.Name("Type").String("Allocation")
	obj.Name("Size").Int(size)
	obj.Name("Sequence").Int(int(handle))

	if comment != "" {
		obj.Name("Comment").String(comment)
	}
}
