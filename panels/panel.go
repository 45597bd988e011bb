package panels

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"vitals/feeds"
	"vitals/models"
	"vitals/scheduler"
)

// Panel is a dashboard display consumer. The scheduler pushes fresh feed
// values into it at its configured interval; the panel keeps the latest
// snapshot for the HTTP API and emits a SampleEvent for SSE clients and
// the history writer.
type Panel struct {
	id    string
	title string

	mu        sync.RWMutex
	cfg       *feeds.Config
	feedKey   string
	latest    models.Values
	updatedAt time.Time

	events chan<- models.SampleEvent
}

func New(id, title string, cfg *feeds.Config, events chan<- models.SampleEvent) *Panel {
	p := &Panel{
		id:     id,
		title:  title,
		events: events,
	}
	p.setConfig(cfg)
	return p
}

func (p *Panel) ID() string {
	return p.id
}

func (p *Panel) Title() string {
	return p.title
}

// SchedulingConfig implements scheduler.Consumer. Re-read by the scheduler
// on every config-drift check, so Reconfigure takes effect without
// re-registration.
func (p *Panel) SchedulingConfig() scheduler.SchedulingConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()

	sc := scheduler.SchedulingConfig{FeedConfig: p.cfg}
	if p.cfg != nil {
		sc.FeedType = p.cfg.Type
		sc.Interval = p.cfg.PollInterval
	}
	return sc
}

// Update implements scheduler.Consumer. A nil value map means the shared
// feed has nothing cached yet; the panel keeps showing what it has.
func (p *Panel) Update(values models.Values) error {
	if values == nil {
		return nil
	}
	now := time.Now()

	p.mu.Lock()
	p.latest = values
	p.updatedAt = now
	evt := models.SampleEvent{
		PanelID:     p.id,
		FeedKey:     p.feedKey,
		CollectedAt: now,
		Values:      values,
	}
	events := p.events
	p.mu.Unlock()

	if events != nil {
		select {
		case events <- evt: // Non-blocking send
		default:
			log.WithFields(log.Fields{"panel": p.id}).Warn("Sample channel full, dropping event")
		}
	}
	return nil
}

// Reconfigure swaps the panel's feed configuration. The scheduler notices
// on its next drift check and re-homes the panel to the new shared feed.
func (p *Panel) Reconfigure(cfg *feeds.Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setConfigLocked(cfg)
}

func (p *Panel) setConfig(cfg *feeds.Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setConfigLocked(cfg)
}

func (p *Panel) setConfigLocked(cfg *feeds.Config) {
	p.cfg = cfg
	p.feedKey = ""
	if cfg != nil {
		if key, err := cfg.Key(); err == nil {
			p.feedKey = key
		}
	}
}

// Snapshot returns the panel's latest state for the dashboard API.
func (p *Panel) Snapshot() models.PanelSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := models.PanelSnapshot{
		ID:        p.id,
		Title:     p.title,
		UpdatedAt: p.updatedAt,
		Values:    p.latest.Clone(),
	}
	if p.cfg != nil {
		snap.FeedType = p.cfg.Type
		snap.Interval = p.cfg.PollInterval.Milliseconds()
	}
	return snap
}
