package feeds

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"

	"vitals/models"
)

// DiskFeed reports usage for one mount point.
type DiskFeed struct {
	path   string
	values models.Values
}

func NewDiskFeed() *DiskFeed {
	return &DiskFeed{path: "/", values: models.Values{}}
}

func (f *DiskFeed) Configure(cfg *Config) error {
	f.path = cfg.OptString("path", "/")
	return nil
}

func (f *DiskFeed) Poll() error {
	usage, err := disk.Usage(f.path)
	if err != nil {
		return fmt.Errorf("disk usage %s: %w", f.path, err)
	}

	f.values = models.Values{
		"path":         f.path,
		"total_bytes":  float64(usage.Total),
		"used_bytes":   float64(usage.Used),
		"free_bytes":   float64(usage.Free),
		"used_percent": usage.UsedPercent,
	}
	return nil
}

func (f *DiskFeed) Values() models.Values {
	return f.values.Clone()
}
