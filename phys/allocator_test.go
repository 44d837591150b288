package phys_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kmem/memutils"
	"github.com/vkngwrapper/kmem/phys"
	"golang.org/x/exp/slog"
)

const sixteenMiB = 16 * 1024 * 1024

func newAllocator(t *testing.T, memorySize uint64) (*phys.FrameAllocator, *phys.SparseMemory) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	memory := phys.NewSparseMemory()
	allocator := phys.NewFrameAllocator(logger, memory, true)
	require.NoError(t, allocator.Init(memorySize, 0x100000))
	return allocator, memory
}

func TestInitMarksEverythingUsed(t *testing.T) {
	allocator, _ := newAllocator(t, sixteenMiB)

	require.Equal(t, uint64(sixteenMiB), allocator.MemorySize())
	require.Equal(t, uint32(4096), allocator.BlockCount())
	require.Equal(t, uint32(4096), allocator.UsedBlockCount())
	require.Equal(t, uint32(0), allocator.FreeBlockCount())
	require.Equal(t, uint32(4096), allocator.BlockSize())
	require.Equal(t, phys.Address(0x100000), allocator.BitmapAddress())

	_, ok := allocator.AllocBlock()
	require.False(t, ok)
	require.NoError(t, allocator.Validate())
}

func TestInitTwiceFails(t *testing.T) {
	allocator, _ := newAllocator(t, sixteenMiB)
	require.Error(t, allocator.Init(sixteenMiB, 0))
}

func TestFirstAllocationsSkipFrameZero(t *testing.T) {
	allocator, _ := newAllocator(t, sixteenMiB)
	allocator.InitRegion(0, sixteenMiB)

	require.Equal(t, uint32(4095), allocator.FreeBlockCount())

	addr, ok := allocator.AllocBlock()
	require.True(t, ok)
	require.Equal(t, phys.Address(0x1000), addr)

	addr, ok = allocator.AllocBlock()
	require.True(t, ok)
	require.Equal(t, phys.Address(0x2000), addr)

	require.Equal(t, uint32(4093), allocator.FreeBlockCount())
	require.NoError(t, allocator.Validate())
}

func TestRegionRoundTrip(t *testing.T) {
	allocator, _ := newAllocator(t, sixteenMiB)
	before := allocator.UsedBlockCount()

	allocator.InitRegion(0x200000, 0x100000)
	require.Equal(t, before-256, allocator.UsedBlockCount())

	allocator.DeinitRegion(0x200000, 0x100000)
	require.Equal(t, before, allocator.UsedBlockCount())
	require.NoError(t, allocator.Validate())
}

func TestRegionRoundsBaseDown(t *testing.T) {
	allocator, _ := newAllocator(t, sixteenMiB)

	allocator.InitRegion(0x200800, 0x2000)
	require.Equal(t, uint32(2), allocator.FreeBlockCount())
	require.False(t, allocator.IsFrameUsed(0x200000))
	require.False(t, allocator.IsFrameUsed(0x201000))
	require.True(t, allocator.IsFrameUsed(0x202000))
}

func TestRegionPastEndOfMemoryIsClipped(t *testing.T) {
	allocator, _ := newAllocator(t, sixteenMiB)

	allocator.InitRegion(0xFF0000, 0x100000)
	require.Equal(t, uint32(16), allocator.FreeBlockCount())
	require.NoError(t, allocator.Validate())
}

func TestNoDoubleAllocation(t *testing.T) {
	allocator, _ := newAllocator(t, 1024*1024)
	allocator.InitRegion(0, 1024*1024)

	seen := map[phys.Address]bool{}
	for {
		addr, ok := allocator.AllocBlock()
		if !ok {
			break
		}
		require.False(t, seen[addr], "address %s handed out twice", addr)
		require.NotEqual(t, phys.Address(0), addr)
		seen[addr] = true
	}

	require.Len(t, seen, 255)
	require.Equal(t, uint32(0), allocator.FreeBlockCount())
}

func TestFreeBlockMakesFrameAvailable(t *testing.T) {
	allocator, _ := newAllocator(t, sixteenMiB)
	allocator.InitRegion(0, sixteenMiB)

	first, _ := allocator.AllocBlock()
	second, _ := allocator.AllocBlock()
	allocator.FreeBlock(first)

	reused, ok := allocator.AllocBlock()
	require.True(t, ok)
	require.Equal(t, first, reused)
	require.NotEqual(t, second, reused)
}

func TestDoubleFreeKeepsCounterConsistent(t *testing.T) {
	if memutils.DebugEnabled {
		t.Skip("debug builds assert on misuse")
	}

	allocator, _ := newAllocator(t, sixteenMiB)
	allocator.InitRegion(0, sixteenMiB)

	addr, _ := allocator.AllocBlock()
	allocator.FreeBlock(addr)
	allocator.FreeBlock(addr)

	require.Equal(t, uint32(4095), allocator.FreeBlockCount())
	require.NoError(t, allocator.Validate())
}

func TestFrameZeroCannotBeFreed(t *testing.T) {
	if memutils.DebugEnabled {
		t.Skip("debug builds assert on misuse")
	}

	allocator, _ := newAllocator(t, sixteenMiB)
	allocator.InitRegion(0, sixteenMiB)

	allocator.FreeBlock(0)
	require.True(t, allocator.IsFrameUsed(0))
	require.Equal(t, uint32(4095), allocator.FreeBlockCount())
}

func TestAllocBlocksContiguous(t *testing.T) {
	allocator, _ := newAllocator(t, sixteenMiB)
	allocator.InitRegion(0, 0x10000)

	// Leave a one-frame hole at 0x3000 so the first run of three starts after it
	allocator.DeinitRegion(0x3000, 0x1000)

	addr, ok := allocator.AllocBlocks(3)
	require.True(t, ok)
	require.Equal(t, phys.Address(0x4000), addr)

	for frame := phys.Address(0x4000); frame < 0x7000; frame += phys.FrameSize {
		require.True(t, allocator.IsFrameUsed(frame))
	}

	addr, ok = allocator.AllocBlocks(2)
	require.True(t, ok)
	require.Equal(t, phys.Address(0x1000), addr)
	require.NoError(t, allocator.Validate())
}

func TestAllocBlocksBoundaries(t *testing.T) {
	allocator, _ := newAllocator(t, sixteenMiB)
	allocator.InitRegion(0, 0x8000)

	require.Equal(t, uint32(7), allocator.FreeBlockCount())

	_, ok := allocator.AllocBlocks(0)
	require.False(t, ok)

	_, ok = allocator.AllocBlocks(8)
	require.False(t, ok)

	addr, ok := allocator.AllocBlocks(7)
	require.True(t, ok)
	require.Equal(t, phys.Address(0x1000), addr)
	require.Equal(t, uint32(0), allocator.FreeBlockCount())

	allocator.FreeBlocks(addr, 7)
	require.Equal(t, uint32(7), allocator.FreeBlockCount())
	require.NoError(t, allocator.Validate())
}

func TestAllocBlocksSpansWords(t *testing.T) {
	allocator, _ := newAllocator(t, sixteenMiB)
	allocator.InitRegion(0x1E000, 0x4000)

	addr, ok := allocator.AllocBlocks(4)
	require.True(t, ok)
	require.Equal(t, phys.Address(0x1E000), addr)
}

func TestAllocBlocksNoRunLongEnough(t *testing.T) {
	allocator, _ := newAllocator(t, sixteenMiB)
	allocator.InitRegion(0x10000, 0x2000)
	allocator.InitRegion(0x20000, 0x2000)

	require.Equal(t, uint32(4), allocator.FreeBlockCount())
	_, ok := allocator.AllocBlocks(3)
	require.False(t, ok)
	require.Equal(t, uint32(4), allocator.FreeBlockCount())
}

func TestZeroedAllocations(t *testing.T) {
	allocator, memory := newAllocator(t, sixteenMiB)
	allocator.InitRegion(0, sixteenMiB)

	memory.Fill(0x1000, 0xAB, 3*phys.FrameSize)

	addr, ok := allocator.AllocBlockZeroed()
	require.True(t, ok)
	require.Equal(t, phys.Address(0x1000), addr)
	require.Equal(t, uint32(0), memory.ReadUint32(0x1000))
	require.Equal(t, uint32(0), memory.ReadUint32(0x1FFC))
	require.Equal(t, uint32(0xABABABAB), memory.ReadUint32(0x2000))

	addr, ok = allocator.AllocBlocksZeroed(2)
	require.True(t, ok)
	require.Equal(t, phys.Address(0x2000), addr)
	require.Equal(t, uint32(0), memory.ReadUint32(0x2000))
	require.Equal(t, uint32(0), memory.ReadUint32(0x3FFC))
	require.Equal(t, 0, memory.ResidentFrames())
}
