package feeds

import (
	"time"

	"vitals/models"
)

// ClockFeed reports the current wall-clock time, optionally in a fixed
// time zone.
type ClockFeed struct {
	location *time.Location
	values   models.Values
}

func NewClockFeed() *ClockFeed {
	return &ClockFeed{location: time.Local, values: models.Values{}}
}

func (f *ClockFeed) Configure(cfg *Config) error {
	name := cfg.OptString("timezone", "")
	if name == "" {
		f.location = time.Local
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return err
	}
	f.location = loc
	return nil
}

func (f *ClockFeed) Poll() error {
	now := time.Now().In(f.location)
	f.values = models.Values{
		"unix":   float64(now.Unix()),
		"iso":    now.Format(time.RFC3339),
		"hour":   now.Hour(),
		"minute": now.Minute(),
		"second": now.Second(),
	}
	return nil
}

func (f *ClockFeed) Values() models.Values {
	return f.values.Clone()
}
