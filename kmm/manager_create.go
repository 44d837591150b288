package kmm

import (
	"io"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kmem/heap"
	"github.com/vkngwrapper/kmem/memutils"
	"github.com/vkngwrapper/kmem/phys"
	"github.com/vkngwrapper/kmem/virt"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific memory manager behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = memutils.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateReentrancyGuard makes every entry point of the frame allocator, mapper and heap panic
	// if it is entered again before the previous call returned. The memory core takes no locks, so
	// this is the only protection against being called from an interrupt handler mid-operation.
	CreateReentrancyGuard CreateFlags = 1 << iota
)

func init() {
	CreateReentrancyGuard.Register("CreateReentrancyGuard")
}

// Region is a range of physical memory
type Region struct {
	Base phys.Address
	Size uint64
}

// CreateOptions contains the boot-time description of the machine's memory
type CreateOptions struct {
	// Flags indicates specific memory manager behaviors to activate or deactivate
	Flags CreateFlags

	// MemorySize is the amount of physical memory in bytes. It is required.
	MemorySize uint64
	// BitmapAddress is the physical address of the frame bitmap. The frames it covers are
	// reserved automatically.
	BitmapAddress phys.Address

	// AvailableRegions lists the physical ranges that may be handed out. If it is empty, all of
	// MemorySize is considered available.
	AvailableRegions []Region
	// ReservedRegions are marked used after AvailableRegions have been released. This is where
	// the kernel image and boot modules go.
	ReservedRegions []Region

	// Heap describes the kernel heap layout. It is valid to leave all the fields blank.
	Heap heap.Options

	// Memory is the physical memory that page tables are written to. If it is nil, a new
	// phys.SparseMemory is used.
	Memory phys.Memory
	// Paging controls the paging registers. If it is nil, a phys.Registers is used.
	Paging phys.PagingControl
}

// regionChunk keeps each InitRegion/DeinitRegion call within the range of its 32-bit size
const regionChunk = 1 << 31

// New creates a MemoryManager and brings up paging and the kernel heap: it initializes the
// frame allocator, releases and reserves the described regions, builds and switches to the boot
// page directory, enables paging and initializes the heap.
//
// options - it is valid to leave every field except MemorySize blank
func New(logger *slog.Logger, options CreateOptions) (*MemoryManager, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if options.MemorySize == 0 {
		return nil, errors.New("kmm.CreateOptions.MemorySize must be provided")
	}

	memory := options.Memory
	if memory == nil {
		memory = phys.NewSparseMemory()
	}

	paging := options.Paging
	if paging == nil {
		paging = &phys.Registers{}
	}

	useGuard := options.Flags&CreateReentrancyGuard != 0

	frames := phys.NewFrameAllocator(logger, memory, useGuard)
	err := frames.Init(options.MemorySize, options.BitmapAddress)
	if err != nil {
		return nil, err
	}

	available := options.AvailableRegions
	if len(available) == 0 {
		available = []Region{{Base: 0, Size: options.MemorySize}}
	}

	for _, region := range available {
		forEachChunk(region, frames.InitRegion)
	}
	for _, region := range options.ReservedRegions {
		forEachChunk(region, frames.DeinitRegion)
	}

	bitmapBytes := memutils.AlignUp(uint64(frames.BlockCount()), 32) / 8
	bitmapSpan := memutils.AlignUp(uint64(options.BitmapAddress.Offset())+bitmapBytes, phys.FrameSize)
	forEachChunk(Region{Base: options.BitmapAddress, Size: bitmapSpan}, frames.DeinitRegion)

	mapper := virt.New(logger, frames, memory, paging, useGuard)
	err = mapper.Initialize()
	if err != nil {
		return nil, errors.Wrap(err, "could not enable paging")
	}

	kernelHeap, err := heap.New(logger, mapper, frames, options.Heap, useGuard)
	if err != nil {
		return nil, err
	}

	err = kernelHeap.Init()
	if err != nil {
		return nil, errors.Wrap(err, "could not initialize the kernel heap")
	}

	logger.Debug("memory manager initialized",
		slog.Int("FreeBlocks", int(frames.FreeBlockCount())),
		slog.String("Directory", mapper.Directory().Base().String()),
		slog.String("CreateFlags", options.Flags.String()),
	)

	return &MemoryManager{
		logger:      logger,
		createFlags: options.Flags,
		memory:      memory,
		paging:      paging,
		frames:      frames,
		mapper:      mapper,
		heap:        kernelHeap,
	}, nil
}

func forEachChunk(region Region, apply func(base phys.Address, size uint32)) {
	base := uint64(region.Base)
	end := base + region.Size
	if end > math.MaxUint32+1 {
		end = math.MaxUint32 + 1
	}

	for base < end {
		size := end - base
		if size > regionChunk {
			size = regionChunk
		}

		apply(phys.Address(base), uint32(size))
		base += size
	}
}
