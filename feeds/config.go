package feeds

import (
	"fmt"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

// Feed type names as used in panel configuration and feed keys.
const (
	TypeCPU     = "cpu"
	TypeMemory  = "memory"
	TypeDisk    = "disk"
	TypeNetwork = "network"
	TypeTemps   = "temps"
	TypeClock   = "clock"
	TypeTest    = "test"
)

// Config describes what a feed should poll and how often.
//
// The poll interval is excluded from the sharing identity so panels that
// want the same data at different cadences still share one feed instance.
type Config struct {
	Type         string        `toml:"type" json:"type"`
	PollInterval time.Duration `toml:"-" json:"pollIntervalMs" hash:"ignore"`

	// Options holds feed-specific settings, e.g. percpu for the cpu feed
	// or path for the disk feed.
	Options map[string]interface{} `toml:"options" json:"options,omitempty"`
}

// Key returns the stable sharing identity "{type}:{hash:016x}" for this
// configuration, ignoring the poll interval.
func (c *Config) Key() (string, error) {
	h, err := hashstructure.Hash(c, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("hash feed config: %w", err)
	}
	return fmt.Sprintf("%s:%016x", c.Type, h), nil
}

// schedulingIdentity is hashed for config-drift detection. It deliberately
// uses the opposite inclusion rule from Key: only the scheduling-relevant
// subset (type + interval), not the full option set.
type schedulingIdentity struct {
	Type     string
	Interval time.Duration
}

// SchedulingHash hashes the subset of a configuration that affects when a
// consumer is due.
func SchedulingHash(feedType string, interval time.Duration) uint64 {
	h, err := hashstructure.Hash(schedulingIdentity{Type: feedType, Interval: interval}, hashstructure.FormatV2, nil)
	if err != nil {
		// Two strings and an int64 always hash; keep the signature simple.
		return 0
	}
	return h
}

// OptString reads a string option with a default.
func (c *Config) OptString(name, def string) string {
	if v, ok := c.Options[name].(string); ok {
		return v
	}
	return def
}

// OptBool reads a bool option with a default.
func (c *Config) OptBool(name string, def bool) bool {
	if v, ok := c.Options[name].(bool); ok {
		return v
	}
	return def
}

// OptFloat reads a numeric option with a default. TOML decodes integers as
// int64 and floats as float64, so both are accepted.
func (c *Config) OptFloat(name string, def float64) float64 {
	switch v := c.Options[name].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return def
}
