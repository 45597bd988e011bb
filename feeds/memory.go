package feeds

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"vitals/models"
)

// MemoryFeed reports virtual memory and optionally swap usage.
type MemoryFeed struct {
	swap   bool
	values models.Values
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{values: models.Values{}}
}

func (f *MemoryFeed) Configure(cfg *Config) error {
	f.swap = cfg.OptBool("swap", true)
	return nil
}

func (f *MemoryFeed) Poll() error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return fmt.Errorf("virtual memory: %w", err)
	}

	values := models.Values{
		"total_bytes":     float64(vm.Total),
		"used_bytes":      float64(vm.Used),
		"available_bytes": float64(vm.Available),
		"used_percent":    vm.UsedPercent,
	}

	if f.swap {
		if sw, err := mem.SwapMemory(); err == nil {
			values["swap_total_bytes"] = float64(sw.Total)
			values["swap_used_bytes"] = float64(sw.Used)
			values["swap_used_percent"] = sw.UsedPercent
		}
	}

	f.values = values
	return nil
}

func (f *MemoryFeed) Values() models.Values {
	return f.values.Clone()
}
