package metadata_test

import (
	"math"
	"strings"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kmem/memutils"
	"github.com/vkngwrapper/kmem/memutils/metadata"
)

func allocate(t *testing.T, list *metadata.RegionList, size int, alignment uint, boundary int, comment string) (int, metadata.BlockAllocationHandle) {
	success, req, err := list.CreateAllocationRequest(size, alignment, boundary, 0)
	require.NoError(t, err)
	require.True(t, success)

	handle, err := list.Alloc(req, comment)
	require.NoError(t, err)
	require.NoError(t, list.Validate())

	return req.Offset, handle
}

func TestRegionListBasicAlloc(t *testing.T) {
	list := metadata.NewRegionList(0, 16, metadata.NoPlacementCheck{})
	list.Init(1000)
	require.NoError(t, list.Validate())

	var stats memutils.DetailedStatistics
	stats.Clear()
	list.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			RegionCount:     1,
			TotalBytes:      1000,
			AllocationCount: 0,
			AllocationBytes: 0,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: 1000,
		UnusedRangeSizeMax: 1000,
	}, stats)

	success, req, err := list.CreateAllocationRequest(100, 1, 0, 0)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, metadata.AllocationRequest{
		Offset:       0,
		Size:         100,
		Type:         metadata.AllocationRequestTrailingSlack,
		RegionIndex:  0,
		RegionOffset: 0,
	}, req)

	handle, err := list.Alloc(req, "first")
	require.NoError(t, err)
	require.Equal(t, metadata.BlockAllocationHandle(1), handle)
	require.NoError(t, list.Validate())

	stats.Clear()
	list.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			RegionCount:     2,
			TotalBytes:      1000,
			AllocationCount: 1,
			AllocationBytes: 100,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  100,
		AllocationSizeMax:  100,
		UnusedRangeSizeMin: 900,
		UnusedRangeSizeMax: 900,
	}, stats)

	require.Equal(t, 1, list.AllocationCount())
	require.Equal(t, 900, list.SumFreeSize())
	require.False(t, list.IsEmpty())

	freed, ok := list.FreeAt(0)
	require.True(t, ok)
	require.Equal(t, handle, freed)
	require.NoError(t, list.Validate())
	require.True(t, list.IsEmpty())
	require.Equal(t, 1, list.RegionCount())
	require.Equal(t, 1000, list.SumFreeSize())
}

func TestRegionListReusesFreedRegion(t *testing.T) {
	list := metadata.NewRegionList(0xD0200000, 16, metadata.NoPlacementCheck{})
	list.Init(1000)

	first, _ := allocate(t, list, 10, 0, 0, "")
	second, _ := allocate(t, list, 20, 0, 0, "")
	require.Equal(t, 0xD0200000, first)
	require.Equal(t, 0xD020000A, second)

	_, ok := list.FreeAt(first)
	require.True(t, ok)
	require.NoError(t, list.Validate())

	success, req, err := list.CreateAllocationRequest(10, 0, 0, 0)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, first, req.Offset)
	require.Equal(t, metadata.AllocationRequestExactFit, req.Type)

	handle, err := list.Alloc(req, "")
	require.NoError(t, err)
	require.Equal(t, metadata.BlockAllocationHandle(3), handle)
	require.NoError(t, list.Validate())
}

func TestRegionListCoalesces(t *testing.T) {
	list := metadata.NewRegionList(0, 16, metadata.NoPlacementCheck{})
	list.Init(1000)

	a, _ := allocate(t, list, 100, 0, 0, "a")
	b, _ := allocate(t, list, 100, 0, 0, "b")
	c, _ := allocate(t, list, 100, 0, 0, "c")
	require.Equal(t, 4, list.RegionCount())

	_, ok := list.FreeAt(a)
	require.True(t, ok)
	require.NoError(t, list.Validate())
	require.Equal(t, 2, list.FreeRegionsCount())

	// c merges into the trailing free space
	_, ok = list.FreeAt(c)
	require.True(t, ok)
	require.NoError(t, list.Validate())
	require.Equal(t, 2, list.FreeRegionsCount())
	require.Equal(t, 3, list.RegionCount())

	// b merges with both neighbors
	_, ok = list.FreeAt(b)
	require.True(t, ok)
	require.NoError(t, list.Validate())
	require.Equal(t, 1, list.FreeRegionsCount())
	require.Equal(t, 1, list.RegionCount())
	require.Equal(t, 1000, list.SumFreeSize())
}

func TestRegionListFreeUnknownOffset(t *testing.T) {
	list := metadata.NewRegionList(0, 16, metadata.NoPlacementCheck{})
	list.Init(1000)

	a, _ := allocate(t, list, 100, 0, 0, "")

	_, ok := list.FreeAt(a + 1)
	require.False(t, ok)

	_, ok = list.FreeAt(500)
	require.False(t, ok)

	_, ok = list.FreeAt(a)
	require.True(t, ok)

	_, ok = list.FreeAt(a)
	require.False(t, ok)
	require.NoError(t, list.Validate())
}

func TestRegionListAlignment(t *testing.T) {
	list := metadata.NewRegionList(0x1000, 16, metadata.NoPlacementCheck{})
	list.Init(0x1000)

	first, _ := allocate(t, list, 3, 0, 0, "")
	require.Equal(t, 0x1000, first)

	success, req, err := list.CreateAllocationRequest(8, 16, 0, 0)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, 0x1010, req.Offset)
	require.Equal(t, metadata.AllocationRequestBothSlack, req.Type)

	_, err = list.Alloc(req, "")
	require.NoError(t, err)
	require.NoError(t, list.Validate())
	require.Equal(t, 4, list.RegionCount())

	// The gap left in front of the aligned allocation is found first
	gap, _ := allocate(t, list, 13, 1, 0, "")
	require.Equal(t, 0x1003, gap)
	require.Equal(t, 1, list.FreeRegionsCount())

	_, _, err = list.CreateAllocationRequest(8, 24, 0, 0)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
}

func TestRegionListBoundary(t *testing.T) {
	list := metadata.NewRegionList(0, 16, metadata.NoPlacementCheck{})
	list.Init(8192)

	allocate(t, list, 4000, 0, 0, "")

	success, req, err := list.CreateAllocationRequest(200, 0, 4096, 0)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, 4096, req.Offset)

	success, _, err = list.CreateAllocationRequest(5000, 0, 4096, 0)
	require.NoError(t, err)
	require.False(t, success)

	_, _, err = list.CreateAllocationRequest(100, 0, 3000, 0)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
}

func TestRegionListCapacity(t *testing.T) {
	list := metadata.NewRegionList(0, 3, metadata.NoPlacementCheck{})
	list.Init(100)

	allocate(t, list, 10, 0, 0, "")
	middle, _ := allocate(t, list, 10, 0, 0, "")
	require.Equal(t, 3, list.RegionCount())

	// A split would need a fourth descriptor
	success, _, err := list.CreateAllocationRequest(10, 0, 0, 0)
	require.NoError(t, err)
	require.False(t, success)

	last, _ := allocate(t, list, 80, 0, 0, "")
	require.Equal(t, 20, last)
	require.Equal(t, 3, list.RegionCount())

	_, ok := list.FreeAt(middle)
	require.True(t, ok)
	require.Equal(t, 3, list.RegionCount())

	require.False(t, list.Extend(50))
	require.Equal(t, 100, list.Size())
	require.NoError(t, list.Validate())
}

func TestRegionListExtend(t *testing.T) {
	list := metadata.NewRegionList(0x4000, 16, metadata.NoPlacementCheck{})
	list.Init(0)
	require.NoError(t, list.Validate())
	require.Equal(t, 0, list.RegionCount())

	success, _, err := list.CreateAllocationRequest(10, 0, 0, 0)
	require.NoError(t, err)
	require.False(t, success)

	require.True(t, list.Extend(100))
	require.NoError(t, list.Validate())

	first, _ := allocate(t, list, 100, 0, 0, "")
	require.Equal(t, 0x4000, first)

	require.True(t, list.Extend(50))
	require.NoError(t, list.Validate())
	require.Equal(t, 2, list.RegionCount())

	second, _ := allocate(t, list, 20, 0, 0, "")
	require.Equal(t, 0x4064, second)

	// Growth with a free tail widens the tail instead of adding a descriptor
	require.True(t, list.Extend(50))
	require.Equal(t, 3, list.RegionCount())
	require.Equal(t, 80, list.SumFreeSize())
	require.Equal(t, 200, list.Size())
	require.NoError(t, list.Validate())

	require.False(t, list.Extend(0))
}

type rejectBelow struct {
	limit     int
	allocType uint32
}

func (c *rejectBelow) CheckPlacementAndAlignUp(allocOffset, allocSize, regionOffset, regionSize int, allocType uint32) (int, bool) {
	c.allocType = allocType
	if allocOffset < c.limit {
		return c.limit, false
	}
	return allocOffset, true
}

type rejectAll struct{}

func (c rejectAll) CheckPlacementAndAlignUp(allocOffset, allocSize, regionOffset, regionSize int, allocType uint32) (int, bool) {
	return allocOffset, false
}

func TestRegionListPlacementCheck(t *testing.T) {
	check := &rejectBelow{limit: 300}
	list := metadata.NewRegionList(0, 16, check)
	list.Init(1000)

	success, req, err := list.CreateAllocationRequest(100, 64, 0, 7)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, 320, req.Offset)
	require.Equal(t, uint32(7), check.allocType)

	success, _, err = list.CreateAllocationRequest(800, 0, 0, 0)
	require.NoError(t, err)
	require.False(t, success)

	stuck := metadata.NewRegionList(0, 16, rejectAll{})
	stuck.Init(1000)
	success, _, err = stuck.CreateAllocationRequest(10, 0, 0, 0)
	require.NoError(t, err)
	require.False(t, success)
}

func TestRegionListStaleRequest(t *testing.T) {
	list := metadata.NewRegionList(0, 16, metadata.NoPlacementCheck{})
	list.Init(1000)

	success, req, err := list.CreateAllocationRequest(100, 0, 0, 0)
	require.NoError(t, err)
	require.True(t, success)

	_, err = list.Alloc(req, "")
	require.NoError(t, err)

	_, err = list.Alloc(req, "")
	require.Error(t, err)
	require.NoError(t, list.Validate())
}

func TestRegionListComments(t *testing.T) {
	list := metadata.NewRegionList(0, 16, metadata.NoPlacementCheck{})
	list.Init(1000)

	a, _ := allocate(t, list, 10, 0, 0, "a very long allocation comment")
	b, _ := allocate(t, list, 10, 0, 0, strings.Repeat("x", 19)+"é")

	size, comment, ok := list.AllocationAt(a)
	require.True(t, ok)
	require.Equal(t, 10, size)
	require.Equal(t, "a very long allocati", comment)

	_, comment, ok = list.AllocationAt(b)
	require.True(t, ok)
	require.Equal(t, strings.Repeat("x", 19), comment)

	_, _, ok = list.AllocationAt(500)
	require.False(t, ok)

	var visited []string
	err := list.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, comment string, free bool) error {
		if !free {
			visited = append(visited, comment)
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, visited, 2)
}

func TestRegionListPrintDetailedMap(t *testing.T) {
	list := metadata.NewRegionList(0, 8, metadata.NoPlacementCheck{})
	list.Init(100)
	allocate(t, list, 10, 0, 0, "boot")

	writer := jwriter.NewWriter()
	obj := writer.Object()
	list.PrintDetailedMap(obj)
	obj.End()
	require.NoError(t, writer.Error())

	require.JSONEq(t, `{
		"TotalBytes": 100,
		"UnusedBytes": 90,
		"Allocations": 1,
		"UnusedRanges": 1,
		"Regions": 2,
		"MaxRegions": 8,
		"Suballocations": [
			{"Offset": 0, "Type": "Allocation", "Size": 10, "Sequence": 1, "Comment": "boot"},
			{"Offset": 10, "Type": "Free", "Size": 90}
		]
	}`, string(writer.Bytes()))
}
