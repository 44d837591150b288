package heap

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kmem/internal/utils"
	"github.com/vkngwrapper/kmem/memutils"
	"github.com/vkngwrapper/kmem/memutils/metadata"
	"github.com/vkngwrapper/kmem/phys"
	"github.com/vkngwrapper/kmem/virt"
	"golang.org/x/exp/slog"
)

// Mapper is the subset of virt.Manager that the heap maps its pages through. Every mapping is
// made in the current directory.
type Mapper interface {
	Directory() *virt.Directory
	MapPhysicalAddress(dir *virt.Directory, virtAddr virt.Address, physAddr phys.Address, flags virt.EntryFlags) bool
	UnmapPhysicalAddress(dir *virt.Directory, virtAddr virt.Address)
	GetPhysicalAddress(dir *virt.Directory, virtAddr virt.Address) (phys.Address, bool)
}

// FrameAllocator is the subset of phys.FrameAllocator that backs heap pages
type FrameAllocator interface {
	AllocBlock() (phys.Address, bool)
	AllocBlocks(count uint32) (phys.Address, bool)
	FreeBlock(addr phys.Address)
	FreeBlocks(addr phys.Address, count uint32)
}

const pageFlags = virt.FlagPresent | virt.FlagWritable

// Heap is the kernel heap. Before Init it hands out memory from the placement window with a
// bump allocator. After Init it keeps a table of address-ordered regions starting at
// Options.Start, growing the mapped range on demand. The heap never shrinks: freed memory goes
// back to the region table, not to the frame allocator.
//
// Heap is not interrupt-safe. None of its methods may be called from an interrupt handler that
// could have interrupted another Heap call.
type Heap struct {
	logger  *slog.Logger
	mapper  Mapper
	frames  FrameAllocator
	options Options
	guard   utils.ReentrancyGuard

	placement  placementAllocator
	regionBase virt.Address
	regions    *metadata.RegionList
}

// New creates a heap over the layout described by options. It does not map anything: the heap
// only serves placement allocations until Init is called.
func New(logger *slog.Logger, mapper Mapper, frames FrameAllocator, options Options, useGuard bool) (*Heap, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	options = options.withDefaults()
	err := options.validate()
	if err != nil {
		return nil, err
	}

	return &Heap{
		logger:  logger,
		mapper:  mapper,
		frames:  frames,
		options: options,
		guard: utils.ReentrancyGuard{
			Name:     "kernel heap",
			UseGuard: useGuard,
		},
		placement: newPlacementAllocator(options.PlacementBegin, options.PlacementEnd),
	}, nil
}

// Options returns the layout the heap was created with, defaults applied
func (h *Heap) Options() Options {
	return h.options
}

// IsInitialized reports whether Init has completed
func (h *Heap) IsInitialized() bool {
	return h.regions != nil
}

// Init backs the whole placement window with frames and places the region table at the current
// placement cursor. The table may use every byte between the cursor and the end of the window.
func (h *Heap) Init() error {
	h.guard.Enter("Init")
	defer h.guard.Exit()

	if h.regions != nil {
		return errors.Wrap(memutils.ErrAlreadyInitialized, "kernel heap")
	}

	dir := h.mapper.Directory()
	if dir == nil {
		return errors.Wrap(memutils.ErrNotInitialized, "the kernel heap requires a current page directory")
	}

	pages := uint32(h.options.PlacementEnd-h.options.PlacementBegin) / virt.PageSize
	if !h.mapPages(dir, h.options.PlacementBegin, pages, false) {
		return errors.Wrapf(memutils.ErrOutOfMemory, "could not back the %d page placement window", pages)
	}

	h.regionBase = h.placement.cursor()
	maxRegions := int(h.placement.remaining()) / metadata.RegionDescriptorSize

	h.regions = metadata.NewRegionList(int(h.options.Start), maxRegions, continuityCheck{heap: h})
	h.regions.Init(0)

	h.logger.Debug("kernel heap initialized",
		slog.String("RegionTable", h.regionBase.String()),
		slog.Int("MaxRegions", maxRegions),
		slog.String("Start", h.options.Start.String()),
	)
	return nil
}

// Malloc reserves size bytes and returns their address. The alignment and placement
// requirements are packed into flags. comment labels the allocation in diagnostics and is
// truncated to metadata.MaxCommentLength bytes.
//
// It returns false when size is 0, the alignment is not a power of two, the size can never fit
// the requested window, or the heap cannot grow far enough. The heap grows at most once per call.
func (h *Heap) Malloc(size uint32, flags AllocFlags, comment string) (virt.Address, bool) {
	h.guard.Enter("Malloc")
	defer h.guard.Exit()

	if size == 0 {
		return 0, false
	}

	alignment := flags.Alignment()
	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		h.logger.Warn("rejected heap allocation", slog.Any("error", err))
		return 0, false
	}

	if h.regions == nil {
		return h.placement.alloc(size, alignment)
	}

	within := flags.Within()
	if within > 0 && size > within {
		return 0, false
	}

	addr, ok := h.allocate(size, alignment, within, flags, comment)
	if ok {
		return addr, true
	}

	if !h.grow(size, alignment, within, flags.IsContinuous()) {
		return 0, false
	}

	return h.allocate(size, alignment, within, flags, comment)
}

func (h *Heap) allocate(size, alignment, within uint32, flags AllocFlags, comment string) (virt.Address, bool) {
	success, request, err := h.regions.CreateAllocationRequest(int(size), uint(alignment), int(within), uint32(flags))
	if err != nil {
		h.logger.Error("heap allocation request failed", slog.Any("error", err))
		return 0, false
	}
	if !success {
		return 0, false
	}

	_, err = h.regions.Alloc(request, comment)
	if err != nil {
		h.logger.Error("heap allocation could not be committed", slog.Any("error", err))
		return 0, false
	}

	memutils.DebugValidate(h.regions)
	return virt.Address(request.Offset), true
}

// grow maps enough new pages at the end of the heap that a retry of the same request will
// succeed, unless the region table runs out of descriptors
func (h *Heap) grow(size, alignment, within uint32, continuous bool) bool {
	if !h.regions.CanExtend() {
		h.logger.Debug("kernel heap region table is full")
		return false
	}

	slack := alignment
	if within > slack {
		slack = within
	}

	growth := uint64(h.options.MinGrowth)
	if proportional := memutils.AlignUp(uint64(size)*3/2, virt.PageSize); proportional > growth {
		growth = proportional
	}
	if sufficient := memutils.AlignUp(uint64(size)+uint64(slack)+virt.PageSize, virt.PageSize); sufficient > growth {
		growth = sufficient
	}

	end := uint64(h.CurrentEnd())
	if end+growth > uint64(h.options.End) {
		h.logger.Warn("kernel heap cannot grow past its limit",
			slog.String("End", h.CurrentEnd().String()),
			slog.Uint64("Growth", growth),
			slog.String("Limit", h.options.End.String()),
		)
		return false
	}

	dir := h.mapper.Directory()
	if dir == nil {
		return false
	}

	pages := uint32(growth / virt.PageSize)
	if !h.mapPages(dir, virt.Address(end), pages, continuous) {
		h.logger.Debug("no frames available to grow the kernel heap", slog.Uint64("Pages", uint64(pages)))
		return false
	}

	if !h.regions.Extend(int(growth)) {
		h.unmapPages(dir, virt.Address(end), pages)
		return false
	}

	h.logger.Debug("kernel heap grown",
		slog.Uint64("Growth", growth),
		slog.Bool("Continuous", continuous),
		slog.String("End", h.CurrentEnd().String()),
	)
	return true
}

// mapPages backs pages consecutive pages starting at start with fresh frames. Continuous
// requests take one physically contiguous run. On failure, everything mapped by this call is
// released again.
func (h *Heap) mapPages(dir *virt.Directory, start virt.Address, pages uint32, continuous bool) bool {
	if continuous {
		base, ok := h.frames.AllocBlocks(pages)
		if !ok {
			return false
		}

		for i := uint32(0); i < pages; i++ {
			offset := i * virt.PageSize
			if !h.mapper.MapPhysicalAddress(dir, start+virt.Address(offset), base+phys.Address(offset), pageFlags) {
				h.unmapPages(dir, start, i)
				h.frames.FreeBlocks(base+phys.Address(offset), pages-i)
				return false
			}
		}
		return true
	}

	for i := uint32(0); i < pages; i++ {
		frame, ok := h.frames.AllocBlock()
		if !ok {
			h.unmapPages(dir, start, i)
			return false
		}

		if !h.mapper.MapPhysicalAddress(dir, start+virt.Address(i*virt.PageSize), frame, pageFlags) {
			h.frames.FreeBlock(frame)
			h.unmapPages(dir, start, i)
			return false
		}
	}
	return true
}

func (h *Heap) unmapPages(dir *virt.Directory, start virt.Address, pages uint32) {
	for i := uint32(0); i < pages; i++ {
		page := start + virt.Address(i*virt.PageSize)

		frame, ok := h.mapper.GetPhysicalAddress(dir, page)
		if !ok {
			continue
		}

		h.mapper.UnmapPhysicalAddress(dir, page)
		h.frames.FreeBlock(frame)
	}
}

// Free releases the allocation that begins at addr. Null addresses, placement allocations and
// addresses that are not the start of a live allocation are ignored.
func (h *Heap) Free(addr virt.Address) {
	h.guard.Enter("Free")
	defer h.guard.Exit()

	if addr == 0 || h.regions == nil {
		return
	}

	_, ok := h.regions.FreeAt(int(addr))
	if !ok {
		h.logger.Debug("ignored free of an address that is not a live heap allocation", slog.String("Address", addr.String()))
		return
	}

	memutils.DebugValidate(h.regions)
}

// CurrentEnd is the first address past the mapped heap
func (h *Heap) CurrentEnd() virt.Address {
	if h.regions == nil {
		return h.options.Start
	}
	return h.options.Start + virt.Address(h.regions.Size())
}

// PlacementCursor is the next address the placement allocator would hand out. After Init it is
// also the address of the region table.
func (h *Heap) PlacementCursor() virt.Address {
	return h.placement.cursor()
}
