package feeds

import (
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/host"

	"vitals/models"
)

// TempsFeed reports hardware sensor temperatures. A sensor filter limits
// output to keys containing the given substring.
type TempsFeed struct {
	filter string
	values models.Values
}

func NewTempsFeed() *TempsFeed {
	return &TempsFeed{values: models.Values{}}
}

func (f *TempsFeed) Configure(cfg *Config) error {
	f.filter = cfg.OptString("sensor", "")
	return nil
}

func (f *TempsFeed) Poll() error {
	sensors, err := host.SensorsTemperatures()
	if err != nil {
		return fmt.Errorf("sensor temperatures: %w", err)
	}

	values := models.Values{}
	max := 0.0
	for _, s := range sensors {
		if f.filter != "" && !strings.Contains(s.SensorKey, f.filter) {
			continue
		}
		values[s.SensorKey+"_celsius"] = s.Temperature
		if s.Temperature > max {
			max = s.Temperature
		}
	}
	if len(values) == 0 {
		return fmt.Errorf("no temperature sensors matching %q", f.filter)
	}
	values["max_celsius"] = max

	f.values = values
	return nil
}

func (f *TempsFeed) Values() models.Values {
	return f.values.Clone()
}
