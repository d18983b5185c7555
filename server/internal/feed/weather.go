package feed

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultDays is the number of forecast entries when none is configured.
const DefaultDays = 5

// Temperature range drawn for each entry, in degrees Celsius: [min, max).
const (
	minTempC = -20
	maxTempC = 55
)

var summaries = []string{
	"Freezing", "Bracing", "Chilly", "Cool", "Mild",
	"Warm", "Balmy", "Hot", "Sweltering", "Scorching",
}

// Forecast is one day of the weather feed.
type Forecast struct {
	Date         string `json:"date"`
	TemperatureC int    `json:"temperatureC"`
	TemperatureF int    `json:"temperatureF"`
	Summary      string `json:"summary"`
}

// Fahrenheit converts c using the same truncating formula the feed has always
// published.
func Fahrenheit(c int) int {
	return 32 + int(float64(c)/0.5556)
}

// Weather is a Generator of random forecasts.
type Weather struct {
	days  atomic.Int32
	clock clockwork.Clock
	intn  func(n int) int // injectable for deterministic tests
}

// NewWeather returns a generator producing days entries per snapshot.
// Non-positive days falls back to DefaultDays.
func NewWeather(days int, clock clockwork.Clock) *Weather {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	w := &Weather{clock: clock, intn: rand.Intn}
	w.SetDays(days)
	return w
}

// SetDays changes the number of entries in subsequent snapshots.
func (w *Weather) SetDays(days int) {
	if days <= 0 {
		days = DefaultDays
	}
	w.days.Store(int32(days))
}

// Days returns the configured number of entries.
func (w *Weather) Days() int {
	return int(w.days.Load())
}

// Generate returns a new forecast. It only fails if ctx is already done.
func (w *Weather) Generate(ctx context.Context) (any, error) {
	return w.Forecast(ctx)
}

// Forecast is Generate with a concrete return type.
func (w *Weather) Forecast(ctx context.Context) ([]Forecast, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := w.Days()
	today := w.clock.Now()
	out := make([]Forecast, 0, n)
	for i := 1; i <= n; i++ {
		c := minTempC + w.intn(maxTempC-minTempC)
		out = append(out, Forecast{
			Date:         today.AddDate(0, 0, i).Format(time.DateOnly),
			TemperatureC: c,
			TemperatureF: Fahrenheit(c),
			Summary:      summaries[w.intn(len(summaries))],
		})
	}
	return out, nil
}
