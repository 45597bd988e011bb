package feeds

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"

	"vitals/models"
)

// CPUFeed reports total and optionally per-core utilization plus the 1/5/15
// minute load averages.
type CPUFeed struct {
	percpu  bool
	loadavg bool
	values  models.Values
}

func NewCPUFeed() *CPUFeed {
	return &CPUFeed{values: models.Values{}}
}

func (f *CPUFeed) Configure(cfg *Config) error {
	f.percpu = cfg.OptBool("percpu", false)
	f.loadavg = cfg.OptBool("loadavg", true)
	return nil
}

func (f *CPUFeed) Poll() error {
	// Interval 0 measures against the previous call instead of blocking.
	totals, err := cpu.Percent(0, false)
	if err != nil {
		return fmt.Errorf("cpu percent: %w", err)
	}

	values := models.Values{}
	if len(totals) > 0 {
		values["usage_percent"] = totals[0]
	}

	if count, err := cpu.Counts(true); err == nil {
		values["core_count"] = count
	}

	if f.percpu {
		cores, err := cpu.Percent(0, true)
		if err != nil {
			return fmt.Errorf("per-core cpu percent: %w", err)
		}
		for i, pct := range cores {
			values[fmt.Sprintf("core_%d_percent", i)] = pct
		}
	}

	if f.loadavg {
		if avg, err := load.Avg(); err == nil {
			values["load_1"] = avg.Load1
			values["load_5"] = avg.Load5
			values["load_15"] = avg.Load15
		}
	}

	f.values = values
	return nil
}

func (f *CPUFeed) Values() models.Values {
	return f.values.Clone()
}
