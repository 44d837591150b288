package virt_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kmem/memutils"
	"github.com/vkngwrapper/kmem/phys"
	"github.com/vkngwrapper/kmem/phys/mocks"
	"github.com/vkngwrapper/kmem/virt"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

func TestInitializeOrdering(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	memory := phys.NewSparseMemory()
	frames := phys.NewFrameAllocator(logger, memory, false)
	require.NoError(t, frames.Init(sixteenMiB, 0))
	frames.InitRegion(0, sixteenMiB)

	paging := mocks.NewMockPagingControl(ctrl)
	gomock.InOrder(
		paging.EXPECT().LoadPageDirectoryBase(phys.Address(0x3000)),
		paging.EXPECT().EnablePaging(true),
	)

	manager := virt.New(logger, frames, memory, paging, false)
	require.Equal(t, virt.PagingUnmapped, manager.State())

	require.NoError(t, manager.Initialize())
	require.Equal(t, virt.PagingEnabled, manager.State())
	require.Equal(t, "PagingEnabled", manager.State().String())

	dir := manager.Directory()
	require.NotNil(t, dir)
	require.Equal(t, phys.Address(0x3000), dir.Base())
	require.Equal(t, uint32(3), dir.FrameCount())
	require.Equal(t, uint32(4095-5), frames.FreeBlockCount())
}

func TestInitializeMappings(t *testing.T) {
	h := newBootedHarness(t)
	dir := h.manager.Directory()

	require.True(t, h.registers.IsPaging())
	require.Equal(t, dir.Base(), h.registers.PageDirectoryBase())

	addr, ok := h.manager.Translate(dir, 0xC0001234)
	require.True(t, ok)
	require.Equal(t, phys.Address(0x1234), addr)

	addr, ok = h.manager.GetPhysicalAddress(dir, 0xC03FF000)
	require.True(t, ok)
	require.Equal(t, phys.Address(0x3FF000), addr)

	addr, ok = h.manager.GetPhysicalAddress(dir, 0x3FF000)
	require.True(t, ok)
	require.Equal(t, phys.Address(0x3FF000), addr)

	_, ok = h.manager.GetPhysicalAddress(dir, 0x400000)
	require.False(t, ok)
	_, ok = h.manager.GetPhysicalAddress(dir, 0xC0400000)
	require.False(t, ok)

	entry, ok := h.manager.Entry(dir, 0xC0000000)
	require.True(t, ok)
	require.Equal(t, virt.FlagPresent|virt.FlagWritable, entry.Flags())

	refs, ok := h.manager.TableReferences(0x2000)
	require.True(t, ok)
	require.Equal(t, uint32(virt.EntriesPerTable), refs)

	// The identity table at 0x1000 maps itself, which is not counted as a reference
	refs, ok = h.manager.TableReferences(0x1000)
	require.True(t, ok)
	require.Equal(t, uint32(virt.EntriesPerTable-1), refs)
}

func TestInitializeTwiceFails(t *testing.T) {
	h := newBootedHarness(t)

	err := h.manager.Initialize()
	require.Error(t, err)
	require.ErrorIs(t, err, memutils.ErrAlreadyInitialized)
	require.Equal(t, virt.PagingEnabled, h.manager.State())
}

func TestInitializeOutOfFrames(t *testing.T) {
	h := newHarness(t, 4*phys.FrameSize)

	err := h.manager.Initialize()
	require.Error(t, err)
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)
	require.Equal(t, virt.PagingUnmapped, h.manager.State())
	require.Equal(t, uint32(3), h.frames.FreeBlockCount())
	require.False(t, h.registers.IsPaging())
}
