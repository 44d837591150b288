package virt

import (
	"io"

	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/kmem/internal/utils"
	"github.com/vkngwrapper/kmem/phys"
	"golang.org/x/exp/slog"
)

// maxTableNesting bounds how many page tables a single mapping may create while self-mapping
// new tables into the directory
const maxTableNesting = 8

// FrameAllocator is the subset of phys.FrameAllocator that the mapper draws page tables,
// directories and backing frames from
type FrameAllocator interface {
	AllocBlock() (phys.Address, bool)
	AllocBlockZeroed() (phys.Address, bool)
	AllocBlocksZeroed(count uint32) (phys.Address, bool)
	FreeBlock(addr phys.Address)
	FreeBlocks(addr phys.Address, count uint32)
}

// Manager maintains two-level page directories. Page tables and directories live in physical
// memory and are read and written through phys.Memory.
//
// Every page table carries a count of the present entries it holds, not counting the entry
// that maps the table onto itself. Clearing the last of them with UnmapPhysicalAddress returns
// the table's frame to the frame allocator.
//
// Manager is not interrupt-safe. None of its methods may be called from an interrupt handler that
// could have interrupted another Manager call.
type Manager struct {
	logger *slog.Logger
	frames FrameAllocator
	memory phys.Memory
	paging phys.PagingControl
	guard  utils.ReentrancyGuard

	state   PagingState
	current *Directory
	tables  *swiss.Map[phys.Frame, tableState]
}

type tableState struct {
	// references counts present entries other than the table's own self-mapping
	references uint32
	// selfMapped is set when creating the table added the entry that maps it at its own
	// address, rather than finding an existing mapping there
	selfMapped bool
}

func New(logger *slog.Logger, frames FrameAllocator, memory phys.Memory, paging phys.PagingControl, useGuard bool) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Manager{
		logger: logger,
		frames: frames,
		memory: memory,
		paging: paging,
		guard: utils.ReentrancyGuard{
			Name:     "virtual memory manager",
			UseGuard: useGuard,
		},
		state:  PagingUnmapped,
		tables: swiss.NewMap[phys.Frame, tableState](42),
	}
}

func (m *Manager) directoryEntry(dir *Directory, index uint32) Entry {
	return Entry(m.memory.ReadUint32(dir.entryAddress(index)))
}

func (m *Manager) setDirectoryEntry(dir *Directory, index uint32, entry Entry) {
	m.memory.WriteUint32(dir.entryAddress(index), uint32(entry))
}

// pageTable returns the page table covering virt, if one is installed
func (m *Manager) pageTable(dir *Directory, virt Address) (phys.Address, bool) {
	pde := m.directoryEntry(dir, virt.DirectoryIndex())
	if !pde.IsPresent() {
		return 0, false
	}
	return pde.Frame(), true
}

func (m *Manager) tableEntry(table phys.Address, virt Address) Entry {
	return Entry(m.memory.ReadUint32(tableEntryAddress(table, virt.TableIndex())))
}

// isSelfMapping reports whether virt is the address a page table is mapped at inside itself
func isSelfMapping(table phys.Address, virt Address) bool {
	return uint32(virt.PageBase()) == uint32(table)
}

// writeTableEntry stores entry for virt in table and keeps the table's reference count in step
// with its present entries. It returns the number of references left.
func (m *Manager) writeTableEntry(table phys.Address, virt Address, entry Entry) uint32 {
	addr := tableEntryAddress(table, virt.TableIndex())
	previous := Entry(m.memory.ReadUint32(addr))
	m.memory.WriteUint32(addr, uint32(entry))

	frame := phys.FrameFromAddress(table)
	state, _ := m.tables.Get(frame)
	if isSelfMapping(table, virt) {
		return state.references
	}

	switch {
	case !previous.IsPresent() && entry.IsPresent():
		state.references++
	case previous.IsPresent() && !entry.IsPresent() && state.references > 0:
		state.references--
	default:
		return state.references
	}

	m.tables.Put(frame, state)
	return state.references
}

func (m *Manager) flush(dir *Directory, virt Address) {
	if dir == m.current {
		m.paging.InvalidatePage(uint32(virt.PageBase()))
	}
}

// FlushTLBEntry invalidates the cached translation for the page containing virt
func (m *Manager) FlushTLBEntry(virt Address) {
	m.paging.InvalidatePage(uint32(virt.PageBase()))
}

// MapPage maps the frame containing physAddr at virt in the current directory. A missing page
// table is created present and writable. The entry keeps any flags it already had and gains
// FlagPresent. It returns false if there is no current directory or no frame for a new table.
func (m *Manager) MapPage(physAddr phys.Address, virt Address) bool {
	m.guard.Enter("MapPage")
	defer m.guard.Exit()

	dir := m.current
	if dir == nil {
		return false
	}

	table, ok := m.pageTable(dir, virt)
	if !ok {
		table, ok = m.allocateTable()
		if !ok {
			return false
		}
		m.installTable(dir, virt.DirectoryIndex(), table, FlagPresent|FlagWritable)
	}

	entry := m.tableEntry(table, virt)
	entry.SetFrame(physAddr)
	entry.SetFlags(FlagPresent)
	m.writeTableEntry(table, virt, entry)
	m.flush(dir, virt)

	return true
}

// allocateTable reserves and zero-fills a frame for a new page table
func (m *Manager) allocateTable() (phys.Address, bool) {
	table, ok := m.frames.AllocBlockZeroed()
	if !ok {
		m.logger.Debug("no frame available for a new page table")
		return 0, false
	}

	m.tables.Put(phys.FrameFromAddress(table), tableState{})
	return table, true
}

// installTable points a directory slot at a page table
func (m *Manager) installTable(dir *Directory, index uint32, table phys.Address, flags EntryFlags) {
	m.setDirectoryEntry(dir, index, NewEntry(table, flags|FlagPresent))
}

// CreatePageTable makes sure the directory slot covering virt holds a page table. A new table is
// built in three steps: a zeroed frame is allocated, the frame is installed in the directory
// with flags, and the frame is then mapped into the same directory at the virtual address equal
// to its physical address. It returns false if dir is nil or frames ran out, in which case
// nothing is left installed.
func (m *Manager) CreatePageTable(dir *Directory, virt Address, flags EntryFlags) bool {
	m.guard.Enter("CreatePageTable")
	defer m.guard.Exit()

	if dir == nil {
		return false
	}
	return m.createPageTable(dir, virt, flags, 0)
}

func (m *Manager) createPageTable(dir *Directory, virt Address, flags EntryFlags, depth int) bool {
	if _, ok := m.pageTable(dir, virt); ok {
		return true
	}

	if depth >= maxTableNesting {
		m.logger.Warn("page table self-mapping nested too deeply", slog.String("virt", virt.String()))
		return false
	}

	table, ok := m.allocateTable()
	if !ok {
		return false
	}

	index := virt.DirectoryIndex()
	m.installTable(dir, index, table, flags)

	if !m.mapTableOntoItself(dir, table, flags, depth+1) {
		m.setDirectoryEntry(dir, index, 0)
		m.tables.Delete(phys.FrameFromAddress(table))
		m.frames.FreeBlock(table)
		return false
	}

	m.logger.Debug("page table created",
		slog.Int("directoryIndex", int(index)),
		slog.String("table", table.String()))
	return true
}

// mapTableOntoItself maps a page table's frame at the virtual address equal to its physical
// address, so that the table stays reachable once paging is on
func (m *Manager) mapTableOntoItself(dir *Directory, table phys.Address, flags EntryFlags, depth int) bool {
	selfVirt := Address(table)
	if !m.createPageTable(dir, selfVirt, flags, depth) {
		return false
	}

	holder, _ := m.pageTable(dir, selfVirt)
	previous := m.tableEntry(holder, selfVirt)
	m.writeTableEntry(holder, selfVirt, NewEntry(table, flags|FlagPresent))
	m.flush(dir, selfVirt)

	if !previous.IsPresent() {
		frame := phys.FrameFromAddress(table)
		state, _ := m.tables.Get(frame)
		state.selfMapped = true
		m.tables.Put(frame, state)
	}
	return true
}

// MapPhysicalAddress maps the frame containing physAddr at virt in dir with exactly the provided
// flags, creating the covering page table if needed. An existing mapping is overwritten without
// releasing the frame it pointed at.
func (m *Manager) MapPhysicalAddress(dir *Directory, virt Address, physAddr phys.Address, flags EntryFlags) bool {
	m.guard.Enter("MapPhysicalAddress")
	defer m.guard.Exit()

	if dir == nil {
		return false
	}
	return m.mapPhysicalAddress(dir, virt, physAddr, flags, 0)
}

func (m *Manager) mapPhysicalAddress(dir *Directory, virt Address, physAddr phys.Address, flags EntryFlags, depth int) bool {
	if !m.createPageTable(dir, virt, flags, depth) {
		return false
	}

	table, _ := m.pageTable(dir, virt)
	m.writeTableEntry(table, virt, NewEntry(physAddr, flags))
	m.flush(dir, virt)
	return true
}

// UnmapPhysicalAddress clears the mapping for virt in dir. When that was the last mapping held by
// the covering page table, the table is released as well.
func (m *Manager) UnmapPhysicalAddress(dir *Directory, virt Address) {
	m.guard.Enter("UnmapPhysicalAddress")
	defer m.guard.Exit()

	if dir == nil {
		return
	}
	m.clearMapping(dir, virt)
}

func (m *Manager) clearMapping(dir *Directory, virt Address) bool {
	table, ok := m.pageTable(dir, virt)
	if !ok {
		return false
	}

	if !m.tableEntry(table, virt).IsPresent() {
		return false
	}

	refs := m.writeTableEntry(table, virt, 0)
	m.flush(dir, virt)

	if refs == 0 && !isSelfMapping(table, virt) {
		m.releaseTable(dir, virt.DirectoryIndex())
	}
	return true
}

// UnmapPageTable removes the whole page table covering virt from dir and frees its frame,
// regardless of how many mappings it still holds
func (m *Manager) UnmapPageTable(dir *Directory, virt Address) {
	m.guard.Enter("UnmapPageTable")
	defer m.guard.Exit()

	if dir == nil {
		return
	}

	if _, ok := m.pageTable(dir, virt); ok {
		m.releaseTable(dir, virt.DirectoryIndex())
	}
}

func (m *Manager) releaseTable(dir *Directory, index uint32) {
	pde := m.directoryEntry(dir, index)
	table := pde.Frame()
	state, _ := m.tables.Get(phys.FrameFromAddress(table))

	m.setDirectoryEntry(dir, index, 0)
	m.tables.Delete(phys.FrameFromAddress(table))
	m.frames.FreeBlock(table)

	m.logger.Debug("page table released",
		slog.Int("directoryIndex", int(index)),
		slog.String("table", table.String()))

	// The table's self-mapping lives in another table when the frame sits outside the range it covers
	selfVirt := Address(table)
	if !state.selfMapped || selfVirt.DirectoryIndex() == index {
		m.flush(dir, selfVirt)
		return
	}

	holder, ok := m.pageTable(dir, selfVirt)
	if ok && m.tableEntry(holder, selfVirt).Frame() == table {
		m.clearMapping(dir, selfVirt)
	}
}

// GetPhysicalAddress returns the frame address mapped at virt in dir. It returns false when no page
// table covers virt or the entry is not present.
func (m *Manager) GetPhysicalAddress(dir *Directory, virt Address) (phys.Address, bool) {
	if dir == nil {
		return 0, false
	}

	table, ok := m.pageTable(dir, virt)
	if !ok {
		return 0, false
	}

	entry := m.tableEntry(table, virt)
	if !entry.IsPresent() {
		return 0, false
	}
	return entry.Frame(), true
}

// Translate is GetPhysicalAddress with the offset within the page carried over
func (m *Manager) Translate(dir *Directory, virt Address) (phys.Address, bool) {
	frame, ok := m.GetPhysicalAddress(dir, virt)
	if !ok {
		return 0, false
	}
	return frame + phys.Address(virt.PageOffset()), true
}

// Entry returns the raw page table entry for virt in dir
func (m *Manager) Entry(dir *Directory, virt Address) (Entry, bool) {
	if dir == nil {
		return 0, false
	}

	table, ok := m.pageTable(dir, virt)
	if !ok {
		return 0, false
	}
	return m.tableEntry(table, virt), true
}

// CreateAddressSpace allocates an empty page directory. Nothing is mapped in it, the kernel
// included.
func (m *Manager) CreateAddressSpace() (*Directory, bool) {
	m.guard.Enter("CreateAddressSpace")
	defer m.guard.Exit()

	base, ok := m.frames.AllocBlockZeroed()
	if !ok {
		return nil, false
	}

	return &Directory{base: base, frames: 1}, true
}

// SwitchDirectory makes dir the current directory and loads its base into the page directory base
// register. It returns false if dir is nil.
func (m *Manager) SwitchDirectory(dir *Directory) bool {
	if dir == nil {
		m.logger.Warn("attempted to switch to a nil page directory")
		return false
	}

	m.current = dir
	m.paging.LoadPageDirectoryBase(dir.base)
	return true
}

// Directory returns the current directory, or nil before the first switch
func (m *Manager) Directory() *Directory {
	return m.current
}

// AllocPage backs virt in dir with a newly allocated frame
func (m *Manager) AllocPage(dir *Directory, virt Address, flags EntryFlags) bool {
	m.guard.Enter("AllocPage")
	defer m.guard.Exit()

	if dir == nil {
		return false
	}

	frame, ok := m.frames.AllocBlock()
	if !ok {
		return false
	}

	if !m.mapPhysicalAddress(dir, virt, frame, flags|FlagPresent, 0) {
		m.frames.FreeBlock(frame)
		return false
	}
	return true
}

// FreePage unmaps virt in dir and returns the frame that backed it to the frame allocator
func (m *Manager) FreePage(dir *Directory, virt Address) {
	m.guard.Enter("FreePage")
	defer m.guard.Exit()

	if dir == nil {
		return
	}

	table, ok := m.pageTable(dir, virt)
	if !ok {
		return
	}

	entry := m.tableEntry(table, virt)
	if !entry.IsPresent() {
		return
	}

	m.clearMapping(dir, virt)
	m.frames.FreeBlock(entry.Frame())
}

// TableReferences is the number of present entries held by the page table at table, not counting
// its own self-mapping
func (m *Manager) TableReferences(table phys.Address) (uint32, bool) {
	state, ok := m.tables.Get(phys.FrameFromAddress(table))
	return state.references, ok
}
