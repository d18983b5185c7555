package feed

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFahrenheit(t *testing.T) {
	cases := map[int]int{
		0:   32,
		100: 211,
		-20: -3,
		37:  98,
	}
	for c, want := range cases {
		assert.Equal(t, want, Fahrenheit(c), "Fahrenheit(%d)", c)
	}
}

func TestWeather_Forecast(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2024, 12, 30, 8, 0, 0, 0, time.UTC))
	w := NewWeather(3, clk)

	got, err := w.Forecast(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)

	wantDates := []string{"2024-12-31", "2025-01-01", "2025-01-02"}
	for i, f := range got {
		assert.Equal(t, wantDates[i], f.Date)
		assert.GreaterOrEqual(t, f.TemperatureC, minTempC)
		assert.Less(t, f.TemperatureC, maxTempC)
		assert.Equal(t, Fahrenheit(f.TemperatureC), f.TemperatureF)
		assert.Contains(t, summaries, f.Summary)
	}
}

func TestWeather_DeterministicSource(t *testing.T) {
	w := NewWeather(2, clockwork.NewFakeClock())
	w.intn = func(n int) int { return n - 1 }

	got, err := w.Forecast(context.Background())
	require.NoError(t, err)
	for _, f := range got {
		assert.Equal(t, maxTempC-1, f.TemperatureC)
		assert.Equal(t, "Scorching", f.Summary)
	}
}

func TestWeather_DefaultDays(t *testing.T) {
	w := NewWeather(0, nil)
	assert.Equal(t, DefaultDays, w.Days())

	v, err := w.Generate(context.Background())
	require.NoError(t, err)
	assert.Len(t, v, DefaultDays)
}

func TestWeather_SetDays(t *testing.T) {
	w := NewWeather(5, clockwork.NewFakeClock())
	w.SetDays(7)
	got, err := w.Forecast(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 7)

	w.SetDays(-1)
	assert.Equal(t, DefaultDays, w.Days())
}

func TestWeather_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewWeather(5, nil).Generate(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
