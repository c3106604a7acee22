package tilt

import (
	"math"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// Generator produces synthetic hydrometer/thermometer readings for one
// simulated brewing sensor. Temperature follows a daily cycle around a
// baseline; gravity drifts slowly downwards the way a fermentation does.
type Generator struct {
	TempKey    string
	GravityKey string

	baselineTemp float64
	noise        float64
	gravity      float64
	started      time.Time
}

// NewGenerator creates a generator with randomized baselines. The reading
// keys are derived from a fake device name so concurrent simulated sensors
// stay distinguishable.
func NewGenerator() *Generator {
	name := gofakeit.NounConcrete()
	return &Generator{
		TempKey:      name + "_temp",
		GravityKey:   name + "_gravity",
		baselineTemp: 18.0 + rand.Float64()*6,   // #nosec G404 - simulation data
		noise:        0.5 + rand.Float64()*1.5,  // #nosec G404
		gravity:      1050 + rand.Float64()*20,  // #nosec G404
		started:      time.Now(),
	}
}

// Temperature generates a plausible celsius reading for t.
func (g *Generator) Temperature(t time.Time) float64 {
	hour := float64(t.Hour())

	// Peak mid-afternoon.
	dailyCycle := 2 * math.Sin((hour-6)*math.Pi/12)
	noise := (rand.Float64() - 0.5) * g.noise // #nosec G404

	return math.Round((g.baselineTemp+dailyCycle+noise)*100) / 100
}

// Gravity generates a specific-gravity reading (in thousandths) for t.
// The value walks downward over roughly two weeks, bottoming out near 1010.
func (g *Generator) Gravity(t time.Time) float64 {
	elapsed := t.Sub(g.started).Hours()
	drop := elapsed / (14 * 24) * 40
	noise := (rand.Float64() - 0.5) * 0.8 // #nosec G404

	value := math.Max(1010, g.gravity-drop) + noise
	return math.Round(value*10) / 10
}

// Batch generates the pair of readings a tilt sensor reports at t.
func (g *Generator) Batch(t time.Time) []Reading {
	ts := NewUnixTime(t)
	return []Reading{
		{Key: g.TempKey, Value: g.Temperature(t), Timestamp: ts},
		{Key: g.GravityKey, Value: g.Gravity(t), Timestamp: ts},
	}
}
