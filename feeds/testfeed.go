package feeds

import (
	"fmt"
	"math"
	"time"

	"vitals/models"
)

// TestFeed generates a deterministic waveform. Useful for demos and for
// exercising the scheduler without touching real hardware.
type TestFeed struct {
	waveform  string
	period    time.Duration
	amplitude float64
	offset    float64

	start  time.Time
	polls  int
	values models.Values
}

func NewTestFeed() *TestFeed {
	return &TestFeed{
		waveform:  "sine",
		period:    10 * time.Second,
		amplitude: 100,
		start:     time.Now(),
		values:    models.Values{},
	}
}

func (f *TestFeed) Configure(cfg *Config) error {
	f.waveform = cfg.OptString("waveform", "sine")
	switch f.waveform {
	case "sine", "sawtooth", "square":
	default:
		return fmt.Errorf("unknown waveform %q", f.waveform)
	}
	f.period = time.Duration(cfg.OptFloat("period_ms", 10000)) * time.Millisecond
	if f.period <= 0 {
		return fmt.Errorf("period_ms must be positive, got %v", cfg.OptFloat("period_ms", 10000))
	}
	f.amplitude = cfg.OptFloat("amplitude", 100)
	f.offset = cfg.OptFloat("offset", 0)
	return nil
}

func (f *TestFeed) Poll() error {
	f.polls++

	// Phase in [0, 1) within the configured period.
	elapsed := time.Since(f.start)
	phase := float64(elapsed%f.period) / float64(f.period)

	var v float64
	switch f.waveform {
	case "sawtooth":
		v = phase
	case "square":
		if phase < 0.5 {
			v = 1
		}
	default:
		v = (math.Sin(2*math.Pi*phase) + 1) / 2
	}

	f.values = models.Values{
		"value": f.offset + v*f.amplitude,
		"phase": phase,
		"polls": f.polls,
	}
	return nil
}

func (f *TestFeed) Values() models.Values {
	return f.values.Clone()
}
