package metadata

// PlacementCheck lets the consumer reject candidate placements that satisfy size and alignment
// but violate some property only the consumer can see, such as physical contiguity of the pages
// behind an address range.
type PlacementCheck interface {
	// CheckPlacementAndAlignUp examines a candidate allocation of allocSize bytes at allocOffset inside
	// the free region [regionOffset, regionOffset+regionSize). It returns allocOffset and true if the
	// candidate is acceptable. Otherwise it returns false and the lowest offset at which a new
	// candidate may succeed; returning an offset that is not past allocOffset abandons the region.
	CheckPlacementAndAlignUp(allocOffset, allocSize, regionOffset, regionSize int, allocType uint32) (int, bool)
}

// NoPlacementCheck accepts every candidate
type NoPlacementCheck struct{}

func (c NoPlacementCheck) CheckPlacementAndAlignUp(allocOffset, allocSize, regionOffset, regionSize int, allocType uint32) (int, bool) {
	return allocOffset, true
}
