package metadata

// BlockAllocationHandle identifies a live allocation. Handles are sequence numbers assigned in
// allocation order, so they also tell which of two allocations is older.
type BlockAllocationHandle uint32

const (
	NoAllocation BlockAllocationHandle = 0
)

// RegionDescriptorSize is the number of bytes one region descriptor occupies in the placement
// window: size and sequence number, a reserved byte and a NUL-terminated comment
const RegionDescriptorSize = 4 + 4 + 1 + MaxCommentLength + 1

type region struct {
	size    int
	handle  BlockAllocationHandle
	comment Comment
}

func (r *region) isFree() bool {
	return r.handle == NoAllocation
}
