package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kmem/memutils"
	"github.com/vkngwrapper/kmem/virt"
)

const (
	// DefaultPlacementBegin is where the placement window begins when Options leaves it unset
	DefaultPlacementBegin virt.Address = 0xD0000000
	// DefaultPlacementEnd is where the placement window ends when Options leaves it unset
	DefaultPlacementEnd virt.Address = 0xD0200000
	// DefaultStart is the first heap address when Options leaves it unset
	DefaultStart virt.Address = 0xD0200000
	// DefaultEnd bounds heap growth when Options leaves it unset
	DefaultEnd virt.Address = 0xE0000000
	// DefaultMinGrowth is the smallest number of bytes the heap grows by when Options leaves it unset
	DefaultMinGrowth uint32 = 0x10000
)

// Options describes the virtual layout of the heap. Every field may be left zero, in which case
// the corresponding Default value is used.
type Options struct {
	// PlacementBegin and PlacementEnd bound the placement window. Allocations made before Init are
	// bump-allocated from it, and Init stores the region table in whatever remains.
	PlacementBegin virt.Address
	PlacementEnd   virt.Address

	// Start is the address of the first heap region. The heap grows upward from there and never
	// past End.
	Start virt.Address
	End   virt.Address

	// MinGrowth is the smallest growth step in bytes. It must be a multiple of the page size.
	MinGrowth uint32
}

func (o Options) withDefaults() Options {
	if o.PlacementBegin == 0 {
		o.PlacementBegin = DefaultPlacementBegin
	}
	if o.PlacementEnd == 0 {
		o.PlacementEnd = DefaultPlacementEnd
	}
	if o.Start == 0 {
		o.Start = DefaultStart
	}
	if o.End == 0 {
		o.End = DefaultEnd
	}
	if o.MinGrowth == 0 {
		o.MinGrowth = DefaultMinGrowth
	}

	return o
}

func (o Options) validate() error {
	if o.PlacementBegin >= o.PlacementEnd {
		return errors.Newf("heap.Options: placement window [%s, %s) is empty", o.PlacementBegin, o.PlacementEnd)
	}
	if o.Start >= o.End {
		return errors.Newf("heap.Options: heap range [%s, %s) is empty", o.Start, o.End)
	}
	if o.PlacementBegin < o.End && o.Start < o.PlacementEnd {
		return errors.New("heap.Options: the placement window overlaps the heap range")
	}

	for _, bound := range []struct {
		name  string
		value virt.Address
	}{
		{"PlacementBegin", o.PlacementBegin},
		{"PlacementEnd", o.PlacementEnd},
		{"Start", o.Start},
		{"End", o.End},
	} {
		if !memutils.IsAligned(bound.value, virt.PageSize) {
			return errors.Newf("heap.Options: %s %s is not page aligned", bound.name, bound.value)
		}
	}

	if !memutils.IsAligned(o.MinGrowth, virt.PageSize) {
		return errors.Newf("heap.Options: MinGrowth %d is not a multiple of the page size", o.MinGrowth)
	}

	return nil
}
