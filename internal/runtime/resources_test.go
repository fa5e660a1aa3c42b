package runtime

import (
	"runtime/metrics"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResourceSampler(t *testing.T) {
	sampler := newResourceSampler()

	first := sampler.Sample()
	assert.Zero(t, first.CPUPercent)
	assert.Empty(t, first.SampledOver)
	assert.NotZero(t, first.HeapBytes)
	assert.Positive(t, first.Goroutines)

	time.Sleep(10 * time.Millisecond)

	second := sampler.Sample()
	assert.GreaterOrEqual(t, second.CPUPercent, 0.0)
	assert.NotEmpty(t, second.SampledOver)
}

func TestResourceSamplerReadsCPUMetric(t *testing.T) {
	sample := []metrics.Sample{{Name: cpuSecondsMetric}}
	metrics.Read(sample)
	assert.Equal(t, metrics.KindFloat64, sample[0].Value.Kind())
}

func TestResourceSamplerWithoutCPUMetric(t *testing.T) {
	sampler := newResourceSampler()
	sampler.sample = []metrics.Sample{{Name: "/not/a/metric:units"}}

	sampler.Sample()
	time.Sleep(5 * time.Millisecond)
	usage := sampler.Sample()

	assert.Zero(t, usage.CPUPercent)
	assert.Empty(t, usage.SampledOver, "no baseline without a CPU reading")
	assert.True(t, sampler.lastAt.IsZero())
}

func TestResourceSamplerNil(t *testing.T) {
	var sampler *resourceSampler
	assert.Equal(t, ResourceUsage{}, sampler.Sample())
}
