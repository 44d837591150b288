package metadata

import (
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/kmem/memutils"
)

// RegionList is a BlockMetadata implementation that keeps an address-ordered table of regions,
// each either free or a live allocation. Allocation is first-fit, starting from a hint below
// which no free region exists. Freed regions are merged with free neighbors immediately, so the
// table never holds two adjacent free regions.
//
// The table can hold at most maxRegions descriptors. Splits that would exceed that capacity are
// rejected up front rather than partially applied.
type RegionList struct {
	BlockMetadataBase

	regions    []region
	maxRegions int

	firstFree       int
	firstFreeOffset int

	nextHandle BlockAllocationHandle
	allocCount int
	freeCount  int
	freeSize   int
}

var _ BlockMetadata = &RegionList{}

func NewRegionList(origin int, maxRegions int, placementCheck PlacementCheck) *RegionList {
	return &RegionList{
		BlockMetadataBase: NewBlockMetadata(origin, placementCheck),
		maxRegions:        maxRegions,
	}
}

func (m *RegionList) Init(size int) {
	m.BlockMetadataBase.Init(size)

	initialCapacity := m.maxRegions
	if initialCapacity > 64 {
		initialCapacity = 64
	}
	m.regions = make([]region, 0, initialCapacity)
	m.firstFree = 0
	m.firstFreeOffset = m.origin
	m.nextHandle = 1
	m.allocCount = 0
	m.freeCount = 0
	m.freeSize = 0

	if size > 0 {
		m.regions = append(m.regions, region{size: size})
		m.freeCount = 1
		m.freeSize = size
	}
}

// MaxRegions is the descriptor capacity of the table
func (m *RegionList) MaxRegions() int { return m.maxRegions }

// RegionCount is the number of descriptors currently in use
func (m *RegionList) RegionCount() int { return len(m.regions) }

func (m *RegionList) AllocationCount() int { return m.allocCount }
func (m *RegionList) FreeRegionsCount() int { return m.freeCount }
func (m *RegionList) SumFreeSize() int { return m.freeSize }
func (m *RegionList) IsEmpty() bool { return m.allocCount == 0 }

func (m *RegionList) Validate() error {
	if len(m.regions) > m.maxRegions {
		return errors.Errorf("the table holds %d regions but only has room for %d", len(m.regions), m.maxRegions)
	}

	seen := swiss.NewMap[BlockAllocationHandle, int](uint32(m.allocCount))
	offset := m.origin
	calculatedFree := 0
	freeCount := 0
	allocCount := 0
	prevFree := false

	for index := range m.regions {
		r := &m.regions[index]

		if r.size <= 0 {
			return errors.Errorf("region at offset %d has invalid size %d", offset, r.size)
		}

		if index == m.firstFree && offset != m.firstFreeOffset {
			return errors.Errorf("the first free hint points at region %d with offset %d, but that region begins at %d", index, m.firstFreeOffset, offset)
		}

		if r.isFree() {
			if index < m.firstFree {
				return errors.Errorf("region at offset %d is free but lies before the first free hint", offset)
			}
			if prevFree {
				return errors.Errorf("region at offset %d is free and follows another free region", offset)
			}
			if r.comment.length != 0 {
				return errors.Errorf("region at offset %d is free but still carries a comment", offset)
			}

			freeCount++
			calculatedFree += r.size
		} else {
			if previous, ok := seen.Get(r.handle); ok {
				return errors.Errorf("allocations at offsets %d and %d share sequence number %d", previous, offset, r.handle)
			}
			seen.Put(r.handle, offset)
			allocCount++
		}

		prevFree = r.isFree()
		offset += r.size
	}

	if m.firstFree > len(m.regions) {
		return errors.Errorf("the first free hint %d is past the end of the table", m.firstFree)
	}
	if m.firstFree == len(m.regions) && m.firstFreeOffset != offset {
		return errors.Errorf("the first free hint is at the end of the table but its offset %d is not the end of the block %d", m.firstFreeOffset, offset)
	}
	if offset-m.origin != m.size {
		return errors.Errorf("the full size of the metadata is %d, but the regions only added up to %d", m.size, offset-m.origin)
	}
	if calculatedFree != m.freeSize {
		return errors.Errorf("the free size of the metadata is %d, but the free regions only added up to %d", m.freeSize, calculatedFree)
	}
	if allocCount != m.allocCount {
		return errors.Errorf("the allocation count of the metadata is %d, but the taken regions only added up to %d", m.allocCount, allocCount)
	}
	if freeCount != m.freeCount {
		return errors.Errorf("the free region count of the metadata is %d, but there were only %d free regions", m.freeCount, freeCount)
	}

	return nil
}

func (m *RegionList) VisitAllRegions(handleRegion func(handle BlockAllocationHandle, offset int, size int, comment string, free bool) error) error {
	offset := m.origin
	for index := range m.regions {
		r := &m.regions[index]
		err := handleRegion(r.handle, offset, r.size, r.comment.String(), r.isFree())
		if err != nil {
			return err
		}
		offset += r.size
	}

	return nil
}

func (m *RegionList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.RegionCount += len(m.regions)
	stats.TotalBytes += m.size

	for index := range m.regions {
		r := &m.regions[index]
		if r.isFree() {
			stats.AddUnusedRange(r.size)
		} else {
			stats.AddAllocation(r.size)
		}
	}
}

func (m *RegionList) AddStatistics(stats *memutils.Statistics) {
	stats.RegionCount += len(m.regions)
	stats.AllocationCount += m.allocCount
	stats.TotalBytes += m.size
	stats.AllocationBytes += m.size - m.freeSize
}

func (m *RegionList) BlockJsonData(json jwriter.ObjectState) {
	m.printDetailedMap_Header(json, m.freeSize, m.allocCount, m.freeCount)
	json.Name("Regions").Int(len(m.regions))
	json.Name("MaxRegions").Int(m.maxRegions)
}

// PrintDetailedMap writes the block header followed by every region in address order
func (m *RegionList) PrintDetailedMap(json jwriter.ObjectState) {
	m.BlockJsonData(json)

	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	offset := m.origin
	for index := range m.regions {
		r := &m.regions[index]
		if r.isFree() {
			m.printDetailedMap_UnusedRange(&arrayState, offset, r.size)
		} else {
			m.printDetailedMap_Allocation(&arrayState, r.handle, offset, r.size, r.comment.String())
		}
		offset += r.size
	}
}

// CanExtend reports whether Extend can record more space: either the last region is free and
// can be widened, or the table has room for one more descriptor
func (m *RegionList) CanExtend() bool {
	last := len(m.regions) - 1
	return (last >= 0 && m.regions[last].isFree()) || len(m.regions) < m.maxRegions
}

func (m *RegionList) Extend(size int) bool {
	if size <= 0 {
		return false
	}

	last := len(m.regions) - 1
	if last >= 0 && m.regions[last].isFree() {
		m.regions[last].size += size
	} else {
		if len(m.regions) >= m.maxRegions {
			return false
		}
		m.regions = append(m.regions, region{size: size})
		m.freeCount++
	}

	m.size += size
	m.freeSize += size
	return true
}

func (m *RegionList) CreateAllocationRequest(allocSize int, allocAlignment uint, boundary int, allocType uint32) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	if allocSize <= 0 {
		return false, allocRequest, errors.Errorf("Invalid allocSize: %d", allocSize)
	}
	if err := memutils.CheckPow2(allocAlignment, "allocAlignment"); err != nil {
		return false, allocRequest, err
	}
	if boundary < 0 {
		return false, allocRequest, errors.Errorf("Invalid boundary: %d", boundary)
	}
	if err := memutils.CheckPow2(boundary, "boundary"); err != nil {
		return false, allocRequest, err
	}
	if boundary > 0 && allocSize > boundary {
		return false, allocRequest, nil
	}

	alignment := int(allocAlignment)
	if alignment == 0 {
		alignment = 1
	}

	offset := m.firstFreeOffset
	seenFree := false
	for index := m.firstFree; index < len(m.regions); index++ {
		r := &m.regions[index]

		if !r.isFree() {
			if !seenFree {
				// Reserved regions at the front of the search can never satisfy anything, so skip them next time
				m.firstFree = index + 1
				m.firstFreeOffset = offset + r.size
			}
			offset += r.size
			continue
		}
		seenFree = true

		allocOffset, found := m.fitInRegion(offset, r.size, allocSize, alignment, boundary, allocType)
		if found {
			leading := allocOffset - offset
			trailing := r.size - leading - allocSize
			reqType := requestType(leading, trailing)

			if len(m.regions)+reqType.newRegions() <= m.maxRegions {
				allocRequest.Offset = allocOffset
				allocRequest.Size = allocSize
				allocRequest.Type = reqType
				allocRequest.RegionIndex = index
				allocRequest.RegionOffset = offset
				return true, allocRequest, nil
			}
		}

		offset += r.size
	}

	return false, allocRequest, nil
}

func (m *RegionList) fitInRegion(regionOffset, regionSize, allocSize, alignment, boundary int, allocType uint32) (int, bool) {
	regionEnd := regionOffset + regionSize
	candidate := memutils.AlignUp(regionOffset, alignment)

	for candidate+allocSize <= regionEnd {
		if boundary > 0 {
			windowEnd := memutils.AlignDown(candidate, boundary) + boundary
			if candidate+allocSize > windowEnd {
				candidate = memutils.AlignUp(windowEnd, alignment)
				continue
			}
		}

		next, ok := m.placementCheck.CheckPlacementAndAlignUp(candidate, allocSize, regionOffset, regionSize, allocType)
		if ok {
			return candidate, true
		}
		if next <= candidate {
			return 0, false
		}
		candidate = memutils.AlignUp(next, alignment)
	}

	return 0, false
}

func (m *RegionList) Alloc(request AllocationRequest, comment string) (BlockAllocationHandle, error) {
	if request.RegionIndex < 0 || request.RegionIndex >= len(m.regions) {
		return NoAllocation, errors.New("allocation request refers to a region that does not exist")
	}

	index := request.RegionIndex
	r := m.regions[index]
	if !r.isFree() {
		return NoAllocation, errors.New("allocation request refers to a region that is no longer free")
	}

	leading := request.Offset - request.RegionOffset
	trailing := r.size - leading - request.Size
	if leading < 0 || trailing < 0 || request.Size <= 0 {
		return NoAllocation, errors.New("allocation request no longer fits in its region")
	}
	if requestType(leading, trailing) != request.Type {
		return NoAllocation, errors.New("allocation request type does not match its region")
	}
	if len(m.regions)+request.Type.newRegions() > m.maxRegions {
		return NoAllocation, errors.New("region table is full")
	}

	handle := m.nextHandle
	m.nextHandle++
	if m.nextHandle == NoAllocation {
		m.nextHandle = 1
	}

	if leading > 0 {
		m.regions[index].size = leading
		index++
		m.insertRegion(index, region{})
	}

	m.regions[index] = region{
		size:    request.Size,
		handle:  handle,
		comment: NewComment(comment),
	}

	if trailing > 0 {
		m.insertRegion(index+1, region{size: trailing})
	}

	m.allocCount++
	m.freeSize -= request.Size
	// One free region was consumed, and each slack side leaves one behind
	m.freeCount += request.Type.newRegions() - 1

	if request.RegionIndex == m.firstFree && leading == 0 {
		m.firstFree = index + 1
		m.firstFreeOffset = request.Offset + request.Size
	}

	return handle, nil
}

func (m *RegionList) FreeAt(offset int) (BlockAllocationHandle, bool) {
	index := -1
	regionOffset := m.origin
	for i := range m.regions {
		if regionOffset == offset {
			index = i
			break
		}
		if regionOffset > offset {
			break
		}
		regionOffset += m.regions[i].size
	}

	if index < 0 || m.regions[index].isFree() {
		return NoAllocation, false
	}

	handle := m.regions[index].handle
	m.allocCount--
	m.freeSize += m.regions[index].size
	m.freeCount++
	m.regions[index].handle = NoAllocation
	m.regions[index].comment = Comment{}

	if index+1 < len(m.regions) && m.regions[index+1].isFree() {
		m.regions[index].size += m.regions[index+1].size
		m.removeRegion(index + 1)
		m.freeCount--
	}

	if index > 0 && m.regions[index-1].isFree() {
		prevSize := m.regions[index-1].size
		m.regions[index-1].size += m.regions[index].size
		m.removeRegion(index)
		m.freeCount--
		index--
		regionOffset -= prevSize
	}

	if index < m.firstFree {
		m.firstFree = index
		m.firstFreeOffset = regionOffset
	}

	return handle, true
}

// AllocationAt returns the size and comment of the live allocation that begins at offset
func (m *RegionList) AllocationAt(offset int) (size int, comment string, ok bool) {
	regionOffset := m.origin
	for i := range m.regions {
		if regionOffset > offset {
			break
		}
		r := &m.regions[i]
		if regionOffset == offset {
			if r.isFree() {
				return 0, "", false
			}
			return r.size, r.comment.String(), true
		}
		regionOffset += r.size
	}

	return 0, "", false
}

func (m *RegionList) insertRegion(index int, r region) {
	m.regions = append(m.regions, region{})
	copy(m.regions[index+1:], m.regions[index:])
	m.regions[index] = r
}

func (m *RegionList) removeRegion(index int) {
	copy(m.regions[index:], m.regions[index+1:])
	m.regions = m.regions[:len(m.regions)-1]
}
