package heap

import (
	"fmt"

	"github.com/vkngwrapper/kmem/memutils"
	"github.com/vkngwrapper/kmem/virt"
)

// AllocFlags packs an allocation's alignment together with its placement requirements. The low
// 24 bits hold the alignment in bytes, which must be a power of two; 0 and 1 both mean none.
type AllocFlags uint32

var allocFlagsMapping = memutils.NewFlagStringMapping[AllocFlags]()

func (f AllocFlags) Register(str string) {
	allocFlagsMapping.Register(f, str)
}
func (f AllocFlags) String() string {
	placement := f &^ AlignmentMask
	alignment := f.Alignment()
	if alignment == 0 {
		return allocFlagsMapping.FlagsToString(placement)
	}

	str := fmt.Sprintf("Align(%d)", alignment)
	if placement != 0 {
		str += "|" + allocFlagsMapping.FlagsToString(placement)
	}
	return str
}

const (
	// AlignmentMask selects the alignment bits of an AllocFlags value
	AlignmentMask AllocFlags = 0x00FFFFFF

	// WithinPage keeps the allocation inside a single 4KiB page
	WithinPage AllocFlags = 1 << 24
	// Within64K keeps the allocation inside a single 64KiB window
	Within64K AllocFlags = 1 << 25
	// Continuous requires the pages behind the allocation to be physically contiguous
	Continuous AllocFlags = 1 << 31
)

const within64KSize = 0x10000

func init() {
	WithinPage.Register("WithinPage")
	Within64K.Register("Within64K")
	Continuous.Register("Continuous")
}

// Alignment is the requested alignment in bytes
func (f AllocFlags) Alignment() uint32 {
	return uint32(f & AlignmentMask)
}

// Within is the size of the window the allocation must not cross, or 0 if there is none.
// WithinPage wins when both window flags are set.
func (f AllocFlags) Within() uint32 {
	switch {
	case f&WithinPage != 0:
		return virt.PageSize
	case f&Within64K != 0:
		return within64KSize
	default:
		return 0
	}
}

func (f AllocFlags) IsContinuous() bool {
	return f&Continuous != 0
}
