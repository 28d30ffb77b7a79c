package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementCounter(t *testing.T) {
	registry := NewRegistry()

	registry.IncrementCounter("messages_sent_total", nil, "test counter")
	registry.IncrementCounter("messages_sent_total", nil, "test counter")
	registry.AddToCounter("messages_sent_total", 3, nil, "test counter")

	all := registry.GetAllMetrics()
	counters := all["counters"].(map[string]*Metric)
	require.Contains(t, counters, "messages_sent_total")
	assert.Equal(t, float64(5), counters["messages_sent_total"].Value)
}

func TestCounterLabelsAreDistinct(t *testing.T) {
	registry := NewRegistry()

	registry.IncrementCounter("token_refresh_total", map[string]string{"result": "success"}, "")
	registry.IncrementCounter("token_refresh_total", map[string]string{"result": "failure"}, "")
	registry.IncrementCounter("token_refresh_total", map[string]string{"result": "success"}, "")

	counters := registry.GetAllMetrics()["counters"].(map[string]*Metric)
	assert.Equal(t, float64(2), counters["token_refresh_total_result:success"].Value)
	assert.Equal(t, float64(1), counters["token_refresh_total_result:failure"].Value)
}

func TestRecordTimer(t *testing.T) {
	registry := NewRegistry()

	registry.RecordTimer("delivery", 10*time.Millisecond, nil, "")
	registry.RecordTimer("delivery", 30*time.Millisecond, nil, "")
	registry.RecordTimer("delivery", 20*time.Millisecond, nil, "")

	timers := registry.GetAllMetrics()["timers"].(map[string]*TimerMetric)
	timer := timers["delivery"]
	require.NotNil(t, timer)

	assert.Equal(t, int64(3), timer.Count)
	assert.InDelta(t, 10, timer.Min, 1)
	assert.InDelta(t, 30, timer.Max, 1)
	assert.InDelta(t, 20, timer.Average, 1)
}

func TestRecordTimer_P95(t *testing.T) {
	registry := NewRegistry()

	for i := 1; i <= 100; i++ {
		registry.RecordTimer("delivery", time.Duration(i)*time.Millisecond, nil, "")
	}

	timers := registry.GetAllMetrics()["timers"].(map[string]*TimerMetric)
	assert.InDelta(t, 95, timers["delivery"].P95, 2)
}

func TestSetGauge(t *testing.T) {
	registry := NewRegistry()

	registry.SetGauge("armed_timers", 7, nil, "")
	registry.SetGauge("armed_timers", 3, nil, "")

	gauges := registry.GetAllMetrics()["gauges"].(map[string]*Metric)
	assert.Equal(t, float64(3), gauges["armed_timers"].Value)
}

func TestGetAllMetrics_Shape(t *testing.T) {
	registry := NewRegistry()
	registry.IncrementCounter("c", nil, "")

	all := registry.GetAllMetrics()
	assert.Contains(t, all, "counters")
	assert.Contains(t, all, "timers")
	assert.Contains(t, all, "gauges")
	assert.Contains(t, all, "uptime_ms")
	assert.Contains(t, all, "timestamp")
}

func TestMetricKey(t *testing.T) {
	assert.Equal(t, "name", metricKey("name", nil))

	// Label order does not affect the key.
	a := metricKey("name", map[string]string{"x": "1", "y": "2"})
	b := metricKey("name", map[string]string{"y": "2", "x": "1"})
	assert.Equal(t, a, b)
}

func TestGlobalRegistry(t *testing.T) {
	IncrementCounter("global_test_counter", nil, "")

	counters := GetAllMetrics()["counters"].(map[string]*Metric)
	assert.Contains(t, counters, "global_test_counter")
}
