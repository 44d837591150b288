package heap

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/kmem/memutils"
	"github.com/vkngwrapper/kmem/memutils/metadata"
	"github.com/vkngwrapper/kmem/virt"
	"golang.org/x/exp/slog"
)

// Validate checks the region table for consistency and verifies that every page between
// Options.Start and CurrentEnd is mapped
func (h *Heap) Validate() error {
	if h.regions == nil {
		return nil
	}

	err := h.regions.Validate()
	if err != nil {
		return errors.Wrap(err, "kernel heap region table")
	}

	if h.regionBase+virt.Address(h.regions.MaxRegions()*metadata.RegionDescriptorSize) > h.options.PlacementEnd {
		return errors.Newf("region table at %s with room for %d regions overruns the placement window", h.regionBase, h.regions.MaxRegions())
	}

	dir := h.mapper.Directory()
	for page := h.options.Start; page < h.CurrentEnd(); page += virt.PageSize {
		_, ok := h.mapper.GetPhysicalAddress(dir, page)
		if !ok {
			return errors.Newf("heap page %s is not mapped", page)
		}
	}

	return nil
}

func (h *Heap) AddStatistics(stats *memutils.Statistics) {
	if h.regions == nil {
		return
	}
	h.regions.AddStatistics(stats)
}

func (h *Heap) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	if h.regions == nil {
		return
	}
	h.regions.AddDetailedStatistics(stats)
}

// PrintDetailedMap writes the heap layout and, once the heap is initialized, every region
func (h *Heap) PrintDetailedMap(json jwriter.ObjectState) {
	json.Name("PlacementBegin").String(h.options.PlacementBegin.String())
	json.Name("PlacementEnd").String(h.options.PlacementEnd.String())
	json.Name("PlacementCursor").String(h.placement.cursor().String())
	json.Name("Start").String(h.options.Start.String())
	json.Name("End").String(h.CurrentEnd().String())
	json.Name("Limit").String(h.options.End.String())

	if h.regions == nil {
		json.Name("RegionTable").Null()
		return
	}

	regionTable := json.Name("RegionTable").Object()
	defer regionTable.End()

	regionTable.Name("Address").String(h.regionBase.String())
	h.regions.PrintDetailedMap(regionTable)
}

// ReportLiveAllocations logs every live allocation with its address, size, sequence number and
// comment, and returns how many there were
func (h *Heap) ReportLiveAllocations() int {
	if h.regions == nil {
		return 0
	}

	count := 0
	err := h.regions.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, comment string, free bool) error {
		if free {
			return nil
		}

		count++
		if comment == "" {
			comment = "empty"
		}

		h.logger.LogAttrs(context.Background(), slog.LevelWarn, "[UNRELEASED MEMORY] live heap allocation",
			slog.String("address", virt.Address(offset).String()),
			slog.Int("size", size),
			slog.Int("sequence", int(handle)),
			slog.String("comment", comment),
		)
		return nil
	})
	if err != nil {
		h.logger.LogAttrs(context.Background(),
			slog.LevelError,
			"[UNRELEASED MEMORY] error while iterating live allocations",
			slog.Any("error", err))
	}

	return count
}
