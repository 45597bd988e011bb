package models

import "time"

// Values is a snapshot of the fields a feed produced on its last poll.
// Numeric fields are float64, textual fields string; nested maps are used
// for per-core and per-interface breakdowns.
type Values map[string]interface{}

// Clone returns a shallow copy safe to hand to consumers.
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// SampleEvent fired when a panel receives fresh values from its feed
type SampleEvent struct {
	PanelID     string    `json:"panelId"`
	FeedKey     string    `json:"feedKey"`
	CollectedAt time.Time `json:"collectedAt"`
	Values      Values    `json:"values"`
}

// PanelSnapshot is the read-only view of a panel served by the dashboard API.
type PanelSnapshot struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	FeedType  string    `json:"feedType"`
	Interval  int64     `json:"intervalMs"`
	UpdatedAt time.Time `json:"updatedAt"`
	Values    Values    `json:"values"`
}

// FeedDiagnostics describes one shared feed and its breaker state.
type FeedDiagnostics struct {
	Key                 string `json:"key"`
	RefCount            int    `json:"refCount"`
	MinIntervalMs       int64  `json:"minIntervalMs"`
	BreakerState        string `json:"breakerState"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	RetryIntervalMs     int64  `json:"retryIntervalMs,omitempty"`
}

// Diagnostics is the scheduler's read-only status snapshot.
type Diagnostics struct {
	Consumers int               `json:"consumers"`
	Feeds     []FeedDiagnostics `json:"feeds"`
}

// SamplesAggregatedByTime is one bucket of the history chart.
type SamplesAggregatedByTime struct {
	Time  time.Time `json:"time"`
	Avg   float64   `json:"avg"`
	Max   float64   `json:"max"`
	Count int64     `json:"count"`
}

// Sample is one persisted field value.
type Sample struct {
	FeedKey     string    `json:"feedKey"`
	Field       string    `json:"field"`
	Value       float64   `json:"value"`
	CollectedAt time.Time `json:"collectedAt"`
}
