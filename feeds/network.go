package feeds

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/net"

	"vitals/models"
)

// NetworkFeed reports byte and packet rates for one interface, or the sum
// of all interfaces when none is configured. Rates are derived from the
// counters of the previous poll, so the first poll reports zero.
type NetworkFeed struct {
	iface  string
	values models.Values

	prevAt   time.Time
	prevRecv uint64
	prevSent uint64
}

func NewNetworkFeed() *NetworkFeed {
	return &NetworkFeed{values: models.Values{}}
}

func (f *NetworkFeed) Configure(cfg *Config) error {
	f.iface = cfg.OptString("interface", "")
	return nil
}

func (f *NetworkFeed) Poll() error {
	pernic := f.iface != ""
	counters, err := net.IOCounters(pernic)
	if err != nil {
		return fmt.Errorf("net io counters: %w", err)
	}

	var recv, sent uint64
	found := !pernic
	for _, c := range counters {
		if pernic && c.Name != f.iface {
			continue
		}
		recv += c.BytesRecv
		sent += c.BytesSent
		found = true
	}
	if !found {
		return fmt.Errorf("network interface %s not found", f.iface)
	}

	now := time.Now()
	values := models.Values{
		"rx_total_bytes": float64(recv),
		"tx_total_bytes": float64(sent),
		"rx_bytes_sec":   0.0,
		"tx_bytes_sec":   0.0,
	}
	if !f.prevAt.IsZero() {
		elapsed := now.Sub(f.prevAt).Seconds()
		if elapsed > 0 && recv >= f.prevRecv && sent >= f.prevSent {
			values["rx_bytes_sec"] = float64(recv-f.prevRecv) / elapsed
			values["tx_bytes_sec"] = float64(sent-f.prevSent) / elapsed
		}
	}

	f.prevAt = now
	f.prevRecv = recv
	f.prevSent = sent
	f.values = values
	return nil
}

func (f *NetworkFeed) Values() models.Values {
	return f.values.Clone()
}
