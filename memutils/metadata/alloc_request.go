package metadata

// AllocationRequestType is an enum that indicates how a free region will be divided to make room
// for an allocation. It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestExactFit indicates that the allocation will take over the entire free region
	AllocationRequestExactFit AllocationRequestType = iota
	// AllocationRequestLeadingSlack indicates that free space will remain before the allocation
	AllocationRequestLeadingSlack
	// AllocationRequestTrailingSlack indicates that free space will remain after the allocation
	AllocationRequestTrailingSlack
	// AllocationRequestBothSlack indicates that free space will remain on both sides of the allocation
	AllocationRequestBothSlack
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestExactFit:      "ExactFit",
	AllocationRequestLeadingSlack:  "LeadingSlack",
	AllocationRequestTrailingSlack: "TrailingSlack",
	AllocationRequestBothSlack:     "BothSlack",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

func requestType(leading, trailing int) AllocationRequestType {
	switch {
	case leading > 0 && trailing > 0:
		return AllocationRequestBothSlack
	case leading > 0:
		return AllocationRequestLeadingSlack
	case trailing > 0:
		return AllocationRequestTrailingSlack
	default:
		return AllocationRequestExactFit
	}
}

// newRegions is the number of descriptors a request adds to the table
func (t AllocationRequestType) newRegions() int {
	switch t {
	case AllocationRequestBothSlack:
		return 2
	case AllocationRequestLeadingSlack, AllocationRequestTrailingSlack:
		return 1
	default:
		return 0
	}
}

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where and how
// the metadata intends to allocate new memory. This allocation can be applied to the actual memory system consuming
// memutils, and then committed to the metadata with BlockMetadata.Alloc
type AllocationRequest struct {
	// Offset is where the allocation will begin
	Offset int
	// Size is the size in bytes of the allocation
	Size int
	// Type identifies how the free region will be split
	Type AllocationRequestType

	// RegionIndex and RegionOffset identify the free region the allocation will be carved from
	RegionIndex  int
	RegionOffset int
}
