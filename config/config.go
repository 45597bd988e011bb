package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"vitals/feeds"
)

// TomlPanel represents one dashboard panel from the configuration file.
type TomlPanel struct {
	Id         string                 `toml:"id"`
	Title      string                 `toml:"title"`
	Type       string                 `toml:"type"`
	IntervalMs int64                  `toml:"interval_ms"`
	Options    map[string]interface{} `toml:"options"`
}

// FeedConfig converts the panel entry into the feed configuration the
// scheduling core works with.
func (p *TomlPanel) FeedConfig() *feeds.Config {
	interval := time.Duration(p.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	return &feeds.Config{
		Type:         p.Type,
		PollInterval: interval,
		Options:      p.Options,
	}
}

// TomlServer holds HTTP server configuration.
type TomlServer struct {
	Hostname string `toml:"hostname"`
	Port     int    `toml:"port"`
}

// TomlDatabase holds sample history configuration.
type TomlDatabase struct {
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"`
}

// TomlScheduler holds the update loop tuning knobs.
type TomlScheduler struct {
	BaseTickMs           int64 `toml:"base_tick_ms"`
	ConfigCheckMs        int64 `toml:"config_check_ms"`
	MailboxSize          int   `toml:"mailbox_size"`
	MaxConcurrentUpdates int   `toml:"max_concurrent_updates"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Server    TomlServer    `toml:"server"`
	Database  TomlDatabase  `toml:"database"`
	Scheduler TomlScheduler `toml:"scheduler"`
	Panels    []TomlPanel   `toml:"panels"`
}

func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config TomlConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if config.Server.Hostname == "" {
		config.Server.Hostname = "localhost"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Database.Path == "" {
		config.Database.Path = "vitals.db"
	}
	if config.Database.RetentionDays == 0 {
		config.Database.RetentionDays = 7
	}

	return &config, nil
}
