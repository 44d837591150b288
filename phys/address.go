package phys

import "fmt"

const (
	// FrameShift is the number of address bits covered by a single frame
	FrameShift = 12
	// FrameSize is the size in bytes of a physical frame. It is also the block size reported by
	// FrameAllocator.BlockSize
	FrameSize = 1 << FrameShift

	// MaxFrames is the number of frames addressable with 32-bit physical addresses
	MaxFrames = 1 << (32 - FrameShift)
)

// Address is a 32-bit physical memory address
type Address uint32

// Frame describes a physical memory frame index
type Frame uint32

// Address returns the physical address of the first byte in this frame
func (f Frame) Address() Address {
	return Address(f << FrameShift)
}

// FrameFromAddress returns the Frame that contains the provided physical address. Addresses that
// are not frame aligned are rounded down.
func FrameFromAddress(addr Address) Frame {
	return Frame(addr >> FrameShift)
}

// Offset is the distance in bytes between the start of the containing frame and this address
func (a Address) Offset() uint32 {
	return uint32(a) & (FrameSize - 1)
}

func (a Address) String() string {
	return fmt.Sprintf("0x%08x", uint32(a))
}
