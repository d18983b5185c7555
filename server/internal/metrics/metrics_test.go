package metrics

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveSend(t *testing.T) {
	m := New(nil)
	m.ObserveSend(nil)
	m.ObserveSend(nil)
	m.ObserveSend(errors.New("broken pipe"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sends.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sends.WithLabelValues("error")))
}

func TestNew_RegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Connections.Set(3)
	m.Ticks.Inc()
	m.TicksSkipped.WithLabelValues(SkipBusy).Inc()
	m.ObserveSend(nil)
	m.Evictions.Inc()
	m.ObserveTick(20 * time.Millisecond)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]*dto.MetricFamily{}
	for _, mf := range mfs {
		got[mf.GetName()] = mf
	}
	for _, name := range []string{
		"forecasthub_connections",
		"forecasthub_ticks_total",
		"forecasthub_ticks_skipped_total",
		"forecasthub_sends_total",
		"forecasthub_evictions_total",
		"forecasthub_tick_duration_seconds",
	} {
		assert.Contains(t, got, name)
	}
	assert.Equal(t, 3.0, got["forecasthub_connections"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, uint64(1), got["forecasthub_tick_duration_seconds"].GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestRegisterSessions_ReadsCountOnScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := 2
	RegisterSessions(reg, func() int { return n })

	scrape := func() float64 {
		mfs, err := reg.Gather()
		require.NoError(t, err)
		require.Len(t, mfs, 1)
		assert.Equal(t, "forecasthub_ws_sessions", mfs[0].GetName())
		return mfs[0].GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, 2.0, scrape())
	n = 5
	assert.Equal(t, 5.0, scrape())
}

func TestExposition_RoundTrip(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Ticks.Add(4)
	m.TicksSkipped.WithLabelValues(SkipFeedError).Inc()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		require.NoError(t, enc.Encode(mf))
	}

	var parser expfmt.TextParser
	parsed, err := parser.TextToMetricFamilies(&buf)
	require.NoError(t, err)

	ticks := parsed["forecasthub_ticks_total"]
	require.NotNil(t, ticks)
	assert.Equal(t, 4.0, ticks.GetMetric()[0].GetCounter().GetValue())

	skipped := parsed["forecasthub_ticks_skipped_total"]
	require.NotNil(t, skipped)
	labels := skipped.GetMetric()[0].GetLabel()
	require.Len(t, labels, 1)
	assert.Equal(t, "reason", labels[0].GetName())
	assert.Equal(t, SkipFeedError, labels[0].GetValue())
}

func TestNew_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
