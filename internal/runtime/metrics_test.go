package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordDispatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	require.NoError(t, m.Register())

	m.RecordDispatch("kafka", 5*time.Millisecond, nil)
	m.RecordDispatch("kafka", 5*time.Millisecond, errors.New("broker down"))

	metrics := m.GetRouterMetrics("kafka")
	require.NotNil(t, metrics)
	assert.Equal(t, uint64(2), metrics.Dispatched)
	assert.Equal(t, uint64(1), metrics.Failed)
	assert.False(t, metrics.LastDispatchAt.IsZero())

	assert.Equal(t, 1.0, gatheredValue(t, reg, "test_broker_dispatched_total", "outcome", "error"))
	assert.Nil(t, m.GetRouterMetrics("missing"))
}

func TestMetrics_Replies(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	require.NoError(t, m.Register())

	m.RecordReplyResolved(10 * time.Millisecond)
	m.RecordReplyRedirected()
	m.RecordReplyDropped()
	m.RecordReplyDropped()
	m.RecordTimeout()

	snapshot := m.GetSnapshot()
	assert.Equal(t, ReplyMetrics{Resolved: 1, Redirected: 1, Dropped: 2, TimedOut: 1}, snapshot.Replies)
	assert.Equal(t, 2.0, gatheredValue(t, reg, "test_broker_replies_total", "outcome", "dropped"))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "test_broker_timeouts_total", "", ""))
}

func TestMetrics_SnapshotIsCopy(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())
	m.RecordDispatch("channel", time.Millisecond, nil)

	snapshot := m.GetSnapshot()
	snapshot.Routers["channel"].Dispatched = 100

	assert.Equal(t, uint64(1), m.GetRouterMetrics("channel").Dispatched)
	assert.False(t, snapshot.CollectedAt.IsZero())
}

func TestMetrics_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	// A second collector with the same names is tolerated.
	other := NewMetrics("test", reg)
	require.NoError(t, other.Register())
}

func TestMetrics_Reset(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	require.NoError(t, m.Register())
	m.RecordDispatch("channel", time.Millisecond, nil)
	m.RecordReplyDropped()
	m.SetPending(3)

	m.Reset()

	assert.Empty(t, m.GetSnapshot().Routers)
	assert.Zero(t, m.GetSnapshot().Replies)
	assert.Equal(t, 0.0, gatheredValue(t, reg, "test_broker_pending_requests", "", ""))
}

// gatheredValue returns the value of the counter or gauge sample of family
// name carrying label=value, or the first sample when label is empty.
func gatheredValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if label != "" && !hasLabel(metric.GetLabel(), label, value) {
				continue
			}
			if metric.GetCounter() != nil {
				return metric.GetCounter().GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s{%s=%q} not gathered", name, label, value)
	return 0
}

func hasLabel(pairs []*dto.LabelPair, name, value string) bool {
	for _, pair := range pairs {
		if pair.GetName() == name && pair.GetValue() == value {
			return true
		}
	}
	return false
}
