package panels_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"vitals/feeds"
	"vitals/models"
	"vitals/panels"
)

func cpuConfig() *feeds.Config {
	return &feeds.Config{
		Type:         feeds.TypeCPU,
		PollInterval: time.Second,
	}
}

func TestPanelUpdateEmitsEvent(t *testing.T) {
	events := make(chan models.SampleEvent, 1)
	panel := panels.New("cpu-panel", "CPU", cpuConfig(), events)

	values := models.Values{"total_percent": 42.5}
	assert.NoError(t, panel.Update(values))

	select {
	case evt := <-events:
		assert.Equal(t, "cpu-panel", evt.PanelID)
		assert.Equal(t, 42.5, evt.Values["total_percent"])
		assert.NotEmpty(t, evt.FeedKey)
		assert.False(t, evt.CollectedAt.IsZero())
	default:
		t.Fatal("expected a sample event")
	}

	snap := panel.Snapshot()
	assert.Equal(t, "cpu-panel", snap.ID)
	assert.Equal(t, "CPU", snap.Title)
	assert.Equal(t, feeds.TypeCPU, snap.FeedType)
	assert.Equal(t, int64(1000), snap.Interval)
	assert.Equal(t, 42.5, snap.Values["total_percent"])
}

func TestPanelUpdateNilIsNoop(t *testing.T) {
	events := make(chan models.SampleEvent, 1)
	panel := panels.New("cpu-panel", "CPU", cpuConfig(), events)

	assert.NoError(t, panel.Update(nil))

	select {
	case <-events:
		t.Fatal("nil update must not emit an event")
	default:
	}
	assert.Nil(t, panel.Snapshot().Values)
}

func TestPanelUpdateFullChannelDrops(t *testing.T) {
	events := make(chan models.SampleEvent, 1)
	panel := panels.New("cpu-panel", "CPU", cpuConfig(), events)

	// Fill the channel; the second update must not block
	assert.NoError(t, panel.Update(models.Values{"v": 1.0}))
	assert.NoError(t, panel.Update(models.Values{"v": 2.0}))

	// The latest snapshot still advanced
	assert.Equal(t, 2.0, panel.Snapshot().Values["v"])
}

func TestPanelSchedulingConfig(t *testing.T) {
	panel := panels.New("cpu-panel", "CPU", cpuConfig(), nil)

	sc := panel.SchedulingConfig()
	assert.Equal(t, feeds.TypeCPU, sc.FeedType)
	assert.Equal(t, time.Second, sc.Interval)
	assert.NotNil(t, sc.FeedConfig)
}

func TestPanelReconfigure(t *testing.T) {
	panel := panels.New("panel", "Panel", cpuConfig(), nil)

	panel.Reconfigure(&feeds.Config{
		Type:         feeds.TypeMemory,
		PollInterval: 250 * time.Millisecond,
	})

	sc := panel.SchedulingConfig()
	assert.Equal(t, feeds.TypeMemory, sc.FeedType)
	assert.Equal(t, 250*time.Millisecond, sc.Interval)

	snap := panel.Snapshot()
	assert.Equal(t, feeds.TypeMemory, snap.FeedType)
	assert.Equal(t, int64(250), snap.Interval)
}

func TestStore(t *testing.T) {
	store := panels.NewStore()

	store.Add(panels.New("b", "Second", cpuConfig(), nil))
	store.Add(panels.New("a", "First", cpuConfig(), nil))

	_, ok := store.Get("a")
	assert.True(t, ok)
	_, ok = store.Get("missing")
	assert.False(t, ok)

	snaps := store.Snapshots()
	assert.Len(t, snaps, 2)
	// Sorted by ID for stable API responses
	assert.Equal(t, "a", snaps[0].ID)
	assert.Equal(t, "b", snaps[1].ID)

	store.Remove("a")
	assert.Len(t, store.Snapshots(), 1)
}
