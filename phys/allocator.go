package phys

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/kmem/internal/utils"
	"github.com/vkngwrapper/kmem/memutils"
	"golang.org/x/exp/slog"
)

// FrameAllocator hands out 4096-byte physical frames tracked in a bitmap. Every frame starts out
// used; the boot code releases the ranges the firmware reports as available with InitRegion.
//
// Frame 0 is always kept in use so that a zero address can signal failure.
//
// FrameAllocator is not interrupt-safe. None of its methods may be called from an interrupt
// handler that could have interrupted another FrameAllocator call.
type FrameAllocator struct {
	logger *slog.Logger
	memory Memory
	guard  utils.ReentrancyGuard

	initialized   bool
	memorySize    uint64
	bitmapAddress Address
	maxBlocks     uint32
	usedBlocks    uint32
	bitmap        frameBitmap
}

// NewFrameAllocator creates a FrameAllocator that zero-fills frames through memory. Init must be
// called before any frames can be allocated.
func NewFrameAllocator(logger *slog.Logger, memory Memory, useGuard bool) *FrameAllocator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &FrameAllocator{
		logger: logger,
		memory: memory,
		guard: utils.ReentrancyGuard{
			Name:     "frame allocator",
			UseGuard: useGuard,
		},
	}
}

// Init sizes the bitmap for memorySize bytes of physical memory and marks every frame used.
// bitmapAddress is where the boot code placed the bitmap; the caller is expected to keep that
// range reserved.
func (a *FrameAllocator) Init(memorySize uint64, bitmapAddress Address) error {
	if a.initialized {
		return errors.Wrap(memutils.ErrAlreadyInitialized, "frame allocator")
	}

	blocks := memorySize / FrameSize
	if blocks > MaxFrames {
		return errors.Newf("physical memory size %d exceeds the 32-bit address space", memorySize)
	}

	a.memorySize = memorySize
	a.bitmapAddress = bitmapAddress
	a.maxBlocks = uint32(blocks)
	a.usedBlocks = a.maxBlocks
	a.bitmap = newFrameBitmap(a.maxBlocks)
	a.bitmap.setAll()
	a.initialized = true

	a.logger.Debug("frame allocator initialized",
		slog.Uint64("memorySize", memorySize),
		slog.Int("blocks", int(a.maxBlocks)),
		slog.String("bitmap", bitmapAddress.String()))

	return nil
}

// frameRange converts a byte range to the frames it covers: base is rounded down to its frame and
// only whole frames of size are counted. Frames past the end of memory are dropped.
func (a *FrameAllocator) frameRange(base Address, size uint32) (uint32, uint32) {
	first := uint32(FrameFromAddress(base))
	count := size / FrameSize

	if first >= a.maxBlocks {
		return first, 0
	}
	if count > a.maxBlocks-first {
		count = a.maxBlocks - first
	}
	return first, count
}

// InitRegion marks the frames covering [base, base+size) free. Frame 0 is marked used again
// afterward, even when it lies inside the region.
func (a *FrameAllocator) InitRegion(base Address, size uint32) {
	a.guard.Enter("InitRegion")
	defer a.guard.Exit()

	first, count := a.frameRange(base, size)
	for frame := first; frame < first+count; frame++ {
		if a.bitmap.test(frame) {
			a.bitmap.clear(frame)
			a.usedBlocks--
		}
	}

	if a.maxBlocks > 0 && !a.bitmap.test(0) {
		a.bitmap.set(0)
		a.usedBlocks++
	}

	a.logger.Debug("physical region released",
		slog.String("base", base.String()),
		slog.Int("frames", int(count)),
		slog.Int("freeBlocks", int(a.FreeBlockCount())))
}

// DeinitRegion marks the frames covering [base, base+size) used
func (a *FrameAllocator) DeinitRegion(base Address, size uint32) {
	a.guard.Enter("DeinitRegion")
	defer a.guard.Exit()

	first, count := a.frameRange(base, size)
	for frame := first; frame < first+count; frame++ {
		if !a.bitmap.test(frame) {
			a.bitmap.set(frame)
			a.usedBlocks++
		}
	}

	a.logger.Debug("physical region reserved",
		slog.String("base", base.String()),
		slog.Int("frames", int(count)),
		slog.Int("freeBlocks", int(a.FreeBlockCount())))
}

// AllocBlock reserves the lowest free frame and returns its address. It returns false when no
// frame is free.
func (a *FrameAllocator) AllocBlock() (Address, bool) {
	a.guard.Enter("AllocBlock")
	defer a.guard.Exit()

	return a.allocBlock()
}

func (a *FrameAllocator) allocBlock() (Address, bool) {
	if a.FreeBlockCount() == 0 {
		return 0, false
	}

	frame, found := a.bitmap.firstFree(a.maxBlocks)
	if !found {
		return 0, false
	}

	a.bitmap.set(frame)
	a.usedBlocks++

	return Frame(frame).Address(), true
}

// AllocBlockZeroed behaves like AllocBlock, and zero-fills the frame before returning it
func (a *FrameAllocator) AllocBlockZeroed() (Address, bool) {
	a.guard.Enter("AllocBlockZeroed")
	defer a.guard.Exit()

	addr, ok := a.allocBlock()
	if ok {
		a.memory.Fill(addr, 0, FrameSize)
	}
	return addr, ok
}

// FreeBlock returns a single frame to the allocator. Freeing a frame that is already free, or
// that lies outside physical memory, does nothing.
func (a *FrameAllocator) FreeBlock(addr Address) {
	a.guard.Enter("FreeBlock")
	defer a.guard.Exit()

	a.freeBlocks(addr, 1)
}

// AllocBlocks reserves the lowest run of count physically contiguous frames and returns the
// address of the first one. It returns false when count is 0 or no run is long enough. Free
// frames are never moved to make room.
func (a *FrameAllocator) AllocBlocks(count uint32) (Address, bool) {
	a.guard.Enter("AllocBlocks")
	defer a.guard.Exit()

	return a.allocBlocks(count)
}

func (a *FrameAllocator) allocBlocks(count uint32) (Address, bool) {
	if count == 0 || count > a.FreeBlockCount() {
		return 0, false
	}

	first, found := a.bitmap.firstFreeRun(count, a.maxBlocks)
	if !found {
		return 0, false
	}

	for frame := first; frame < first+count; frame++ {
		a.bitmap.set(frame)
	}
	a.usedBlocks += count

	return Frame(first).Address(), true
}

// AllocBlocksZeroed behaves like AllocBlocks, and zero-fills the whole run before returning it
func (a *FrameAllocator) AllocBlocksZeroed(count uint32) (Address, bool) {
	a.guard.Enter("AllocBlocksZeroed")
	defer a.guard.Exit()

	addr, ok := a.allocBlocks(count)
	if ok {
		a.memory.Fill(addr, 0, count*FrameSize)
	}
	return addr, ok
}

// FreeBlocks returns count frames starting at addr to the allocator
func (a *FrameAllocator) FreeBlocks(addr Address, count uint32) {
	a.guard.Enter("FreeBlocks")
	defer a.guard.Exit()

	a.freeBlocks(addr, count)
}

func (a *FrameAllocator) freeBlocks(addr Address, count uint32) {
	first := uint32(FrameFromAddress(addr))

	for frame := first; frame < first+count; frame++ {
		if frame == 0 || frame >= a.maxBlocks {
			memutils.DebugAssertf(false, "frame %d freed but it is outside the allocatable range", frame)
			a.logger.Warn("attempted to free a frame outside the allocatable range",
				slog.String("address", Frame(frame).Address().String()))
			continue
		}

		if !a.bitmap.test(frame) {
			memutils.DebugAssertf(false, "frame %d freed but it was not in use", frame)
			a.logger.LogAttrs(context.Background(), slog.LevelWarn, "attempted to free a frame that was not in use",
				slog.String("address", Frame(frame).Address().String()))
			continue
		}

		a.bitmap.clear(frame)
		a.usedBlocks--
	}
}

// MemorySize is the size in bytes of physical memory passed to Init
func (a *FrameAllocator) MemorySize() uint64 {
	return a.memorySize
}

// BitmapAddress is the physical address of the bitmap passed to Init
func (a *FrameAllocator) BitmapAddress() Address {
	return a.bitmapAddress
}

// BlockCount is the number of frames tracked by the allocator
func (a *FrameAllocator) BlockCount() uint32 {
	return a.maxBlocks
}

func (a *FrameAllocator) UsedBlockCount() uint32 {
	return a.usedBlocks
}

func (a *FrameAllocator) FreeBlockCount() uint32 {
	return a.maxBlocks - a.usedBlocks
}

func (a *FrameAllocator) BlockSize() uint32 {
	return FrameSize
}

// IsFrameUsed reports whether the frame containing addr is marked used. Addresses outside physical
// memory are always reported as used.
func (a *FrameAllocator) IsFrameUsed(addr Address) bool {
	frame := uint32(FrameFromAddress(addr))
	if frame >= a.maxBlocks {
		return true
	}
	return a.bitmap.test(frame)
}

// Validate recounts the bitmap and checks it against the used block counter
func (a *FrameAllocator) Validate() error {
	var used uint32
	for frame := uint32(0); frame < a.maxBlocks; frame++ {
		if a.bitmap.test(frame) {
			used++
		}
	}

	if used != a.usedBlocks {
		return errors.Newf("the used block count is %d, but the bitmap has %d used frames", a.usedBlocks, used)
	}

	if a.maxBlocks > 0 && !a.bitmap.test(0) {
		return errors.New("frame 0 must always be marked used")
	}

	return nil
}

// PrintJson populates a json object with the allocator's counters
func (a *FrameAllocator) PrintJson(json jwriter.ObjectState) {
	json.Name("MemorySize").Float64(float64(a.memorySize))
	json.Name("BlockSize").Int(FrameSize)
	json.Name("BitmapAddress").String(a.bitmapAddress.String())
	json.Name("TotalBlocks").Int(int(a.maxBlocks))
	json.Name("UsedBlocks").Int(int(a.usedBlocks))
	json.Name("FreeBlocks").Int(int(a.FreeBlockCount()))
}
