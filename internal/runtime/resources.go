package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const cpuSecondsMetric = "/cpu/classes/total:cpu-seconds"

// ResourceUsage is the process footprint reported with the broker status.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	HeapBytes   uint64  `json:"heap_bytes"`
	Goroutines  int     `json:"goroutines"`
	SampledOver string  `json:"sampled_over,omitempty"`
}

// resourceSampler derives CPU usage from the delta between two status
// requests. The first sample only sets the baseline.
type resourceSampler struct {
	mu      sync.Mutex
	sample  []metrics.Sample
	lastCPU float64
	lastAt  time.Time
	cpus    float64
}

func newResourceSampler() *resourceSampler {
	return &resourceSampler{
		sample: []metrics.Sample{{Name: cpuSecondsMetric}},
		cpus:   float64(runtime.NumCPU()),
	}
}

func (s *resourceSampler) Sample() ResourceUsage {
	if s == nil {
		return ResourceUsage{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	metrics.Read(s.sample)
	now := time.Now()
	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}

	if v := s.sample[0].Value; v.Kind() == metrics.KindFloat64 {
		cpu := v.Float64()
		if !s.lastAt.IsZero() {
			wall := now.Sub(s.lastAt)
			if wall > 0 && s.cpus > 0 {
				usage.CPUPercent = (cpu - s.lastCPU) / wall.Seconds() / s.cpus * 100
				usage.SampledOver = wall.Round(time.Millisecond).String()
			}
		}
		s.lastCPU = cpu
		s.lastAt = now
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage.HeapBytes = mem.HeapAlloc
	return usage
}
