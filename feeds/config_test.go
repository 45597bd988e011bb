package feeds_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"vitals/feeds"
)

func TestConfigKey(t *testing.T) {
	tests := []struct {
		name    string
		a       *feeds.Config
		b       *feeds.Config
		sameKey bool
	}{
		{
			name:    "identical configs share a key",
			a:       &feeds.Config{Type: feeds.TypeCPU, PollInterval: time.Second},
			b:       &feeds.Config{Type: feeds.TypeCPU, PollInterval: time.Second},
			sameKey: true,
		},
		{
			name:    "poll interval does not affect the key",
			a:       &feeds.Config{Type: feeds.TypeCPU, PollInterval: 100 * time.Millisecond},
			b:       &feeds.Config{Type: feeds.TypeCPU, PollInterval: 5 * time.Second},
			sameKey: true,
		},
		{
			name:    "different options get different keys",
			a:       &feeds.Config{Type: feeds.TypeDisk, Options: map[string]interface{}{"path": "/"}},
			b:       &feeds.Config{Type: feeds.TypeDisk, Options: map[string]interface{}{"path": "/home"}},
			sameKey: false,
		},
		{
			name:    "different types get different keys",
			a:       &feeds.Config{Type: feeds.TypeCPU},
			b:       &feeds.Config{Type: feeds.TypeMemory},
			sameKey: false,
		},
		{
			name:    "option order does not matter",
			a:       &feeds.Config{Type: feeds.TypeTest, Options: map[string]interface{}{"waveform": "sine", "amplitude": 50.0}},
			b:       &feeds.Config{Type: feeds.TypeTest, Options: map[string]interface{}{"amplitude": 50.0, "waveform": "sine"}},
			sameKey: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyA, err := tt.a.Key()
			assert.NoError(t, err)
			keyB, err := tt.b.Key()
			assert.NoError(t, err)

			if tt.sameKey {
				assert.Equal(t, keyA, keyB)
			} else {
				assert.NotEqual(t, keyA, keyB)
			}
		})
	}
}

func TestConfigKeyFormat(t *testing.T) {
	cfg := &feeds.Config{Type: feeds.TypeMemory, PollInterval: time.Second}
	key, err := cfg.Key()

	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "memory:"))
	// type prefix plus a fixed-width 16 digit hex hash
	assert.Len(t, key, len("memory:")+16)
}

func TestSchedulingHash(t *testing.T) {
	a := feeds.SchedulingHash(feeds.TypeCPU, time.Second)
	b := feeds.SchedulingHash(feeds.TypeCPU, time.Second)
	c := feeds.SchedulingHash(feeds.TypeCPU, 2*time.Second)
	d := feeds.SchedulingHash(feeds.TypeMemory, time.Second)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestConfigOptions(t *testing.T) {
	cfg := &feeds.Config{
		Type: feeds.TypeTest,
		Options: map[string]interface{}{
			"waveform":  "square",
			"percpu":    true,
			"amplitude": int64(50),
			"offset":    12.5,
		},
	}

	assert.Equal(t, "square", cfg.OptString("waveform", "sine"))
	assert.Equal(t, "sine", cfg.OptString("missing", "sine"))
	assert.Equal(t, true, cfg.OptBool("percpu", false))
	assert.Equal(t, false, cfg.OptBool("missing", false))
	// TOML integers decode as int64, floats as float64
	assert.Equal(t, 50.0, cfg.OptFloat("amplitude", 0))
	assert.Equal(t, 12.5, cfg.OptFloat("offset", 0))
	assert.Equal(t, 1.0, cfg.OptFloat("missing", 1.0))
}
