package gpuheap

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vkngwrapper/tlsfheap/memutils"
)

const (
	descHeapReserved = iota
	descHeapAllocated
	descHeapSystem
	descHeapAllocations
	descHeapFreeSegments
)

var (
	descriptors = []*prometheus.Desc{
		descHeapReserved: prometheus.NewDesc(
			"gpuheap_heap_reserved_bytes",
			"Size of the backing allocation of a heap.",
			[]string{
				"device",
				"class",
			},
			nil,
		),
		descHeapAllocated: prometheus.NewDesc(
			"gpuheap_heap_allocated_bytes",
			"Bytes of a heap held by live allocations.",
			[]string{
				"device",
				"class",
			},
			nil,
		),
		descHeapSystem: prometheus.NewDesc(
			"gpuheap_heap_system_bytes",
			"Size of the device memory heap a heap was allocated from.",
			[]string{
				"device",
				"class",
			},
			nil,
		),
		descHeapAllocations: prometheus.NewDesc(
			"gpuheap_heap_allocations",
			"Number of live allocations in a heap.",
			[]string{
				"device",
				"class",
			},
			nil,
		),
		descHeapFreeSegments: prometheus.NewDesc(
			"gpuheap_heap_free_segments",
			"Number of free segments in a heap.",
			[]string{
				"device",
				"class",
			},
			nil,
		),
	}
)

// Collector exports the occupancy of every heap of an Allocator
type Collector struct {
	allocator *Allocator
}

var _ prometheus.Collector = &Collector{}

// NewCollector creates a Collector for the allocator. It must be registered with a prometheus.Registerer
// to be scraped.
func NewCollector(allocator *Allocator) *Collector {
	return &Collector{allocator: allocator}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	a := c.allocator
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	for _, device := range a.activeDevices() {
		ctx, _ := a.devices.Get(device)
		deviceLabel := strconv.FormatUint(uint64(device), 10)

		for _, heap := range ctx.heaps {
			if heap == nil {
				continue
			}

			info := heap.Info()
			var stats memutils.DetailedStatistics
			stats.Clear()
			heap.AddDetailedStatistics(&stats)

			classLabel := heap.Class().String()
			ch <- prometheus.MustNewConstMetric(descriptors[descHeapReserved], prometheus.GaugeValue,
				float64(info.ReservedSize), deviceLabel, classLabel)
			ch <- prometheus.MustNewConstMetric(descriptors[descHeapAllocated], prometheus.GaugeValue,
				float64(info.AllocatedSize), deviceLabel, classLabel)
			ch <- prometheus.MustNewConstMetric(descriptors[descHeapSystem], prometheus.GaugeValue,
				float64(info.SystemSize), deviceLabel, classLabel)
			ch <- prometheus.MustNewConstMetric(descriptors[descHeapAllocations], prometheus.GaugeValue,
				float64(stats.AllocationCount), deviceLabel, classLabel)
			ch <- prometheus.MustNewConstMetric(descriptors[descHeapFreeSegments], prometheus.GaugeValue,
				float64(stats.FreeSegmentCount), deviceLabel, classLabel)
		}
	}
}
