package virt

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kmem/memutils"
	"github.com/vkngwrapper/kmem/phys"
	"golang.org/x/exp/slog"
)

// PagingState tracks how far the boot-time paging setup has progressed. States only move forward.
type PagingState uint32

const (
	// PagingUnmapped is the state before Initialize: no tables exist
	PagingUnmapped PagingState = iota
	// PagingIdentityMapped means the table mapping the first 4MB onto itself has been built
	PagingIdentityMapped
	// PagingHigherHalfMapped means the table mapping KernelVirtualBase onto the first 4MB has been built
	PagingHigherHalfMapped
	// PagingEnabled means the boot directory is installed and paging has been turned on
	PagingEnabled
)

var pagingStateMapping = map[PagingState]string{
	PagingUnmapped:         "Unmapped",
	PagingIdentityMapped:   "IdentityMapped",
	PagingHigherHalfMapped: "HigherHalfMapped",
	PagingEnabled:          "PagingEnabled",
}

func (s PagingState) String() string {
	return pagingStateMapping[s]
}

// bootDirectoryFrames is the number of contiguous frames reserved for the boot page directory,
// although a directory only needs one
const bootDirectoryFrames = 3

// State reports how far Initialize has progressed
func (m *Manager) State() PagingState {
	return m.state
}

// Initialize builds the boot address space and turns paging on. The first 4MB of physical memory
// is mapped both onto itself and at KernelVirtualBase. Both page tables are filled in before the
// directory is installed, and the directory is installed before paging is enabled.
func (m *Manager) Initialize() error {
	m.guard.Enter("Initialize")
	defer m.guard.Exit()

	if m.state != PagingUnmapped {
		return errors.Wrapf(memutils.ErrAlreadyInitialized, "paging is already in state %s", m.state)
	}

	identityTable, ok := m.frames.AllocBlockZeroed()
	if !ok {
		return errors.Wrap(memutils.ErrOutOfMemory, "could not allocate the identity page table")
	}

	higherHalfTable, ok := m.frames.AllocBlockZeroed()
	if !ok {
		m.frames.FreeBlock(identityTable)
		return errors.Wrap(memutils.ErrOutOfMemory, "could not allocate the higher-half page table")
	}

	directoryBase, ok := m.frames.AllocBlocksZeroed(bootDirectoryFrames)
	if !ok {
		m.frames.FreeBlock(identityTable)
		m.frames.FreeBlock(higherHalfTable)
		return errors.Wrap(memutils.ErrOutOfMemory, "could not allocate the boot page directory")
	}

	m.fillTable(identityTable, 0, 0)
	m.state = PagingIdentityMapped

	m.fillTable(higherHalfTable, KernelVirtualBase, 0)
	m.state = PagingHigherHalfMapped

	dir := &Directory{base: directoryBase, frames: bootDirectoryFrames}
	m.installTable(dir, Address(0).DirectoryIndex(), identityTable, FlagPresent|FlagWritable)
	m.installTable(dir, KernelVirtualBase.DirectoryIndex(), higherHalfTable, FlagPresent|FlagWritable)

	m.SwitchDirectory(dir)
	m.paging.EnablePaging(true)
	m.state = PagingEnabled

	m.logger.Debug("paging enabled",
		slog.String("directory", directoryBase.String()),
		slog.String("identityTable", identityTable.String()),
		slog.String("higherHalfTable", higherHalfTable.String()))

	return nil
}

// fillTable maps the 4MB starting at virtBase to consecutive frames starting at firstFrame
func (m *Manager) fillTable(table phys.Address, virtBase Address, firstFrame phys.Address) {
	m.tables.Put(phys.FrameFromAddress(table), tableState{})

	for index := uint32(0); index < EntriesPerTable; index++ {
		virt := virtBase + Address(index*PageSize)
		frame := firstFrame + phys.Address(index*PageSize)
		m.writeTableEntry(table, virt, NewEntry(frame, FlagPresent|FlagWritable))
	}
}
