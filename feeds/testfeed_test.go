package feeds_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"vitals/feeds"
)

func TestTestFeedWaveforms(t *testing.T) {
	tests := []struct {
		name     string
		options  map[string]interface{}
		wantErr  bool
		min, max float64
	}{
		{
			name:    "default sine",
			options: nil,
			min:     0,
			max:     100,
		},
		{
			name:    "sawtooth with amplitude and offset",
			options: map[string]interface{}{"waveform": "sawtooth", "amplitude": 10.0, "offset": 5.0},
			min:     5,
			max:     15,
		},
		{
			name:    "square wave",
			options: map[string]interface{}{"waveform": "square"},
			min:     0,
			max:     100,
		},
		{
			name:    "unknown waveform",
			options: map[string]interface{}{"waveform": "triangle"},
			wantErr: true,
		},
		{
			name:    "zero period",
			options: map[string]interface{}{"period_ms": int64(0)},
			wantErr: true,
		},
		{
			name:    "negative period",
			options: map[string]interface{}{"period_ms": -500.0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := feeds.NewTestFeed()
			err := feed.Configure(&feeds.Config{
				Type:         feeds.TypeTest,
				PollInterval: time.Second,
				Options:      tt.options,
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)

			assert.NoError(t, feed.Poll())
			values := feed.Values()

			value, ok := values["value"].(float64)
			assert.True(t, ok)
			assert.GreaterOrEqual(t, value, tt.min)
			assert.LessOrEqual(t, value, tt.max)

			phase, ok := values["phase"].(float64)
			assert.True(t, ok)
			assert.GreaterOrEqual(t, phase, 0.0)
			assert.Less(t, phase, 1.0)

			assert.Equal(t, 1, values["polls"])
		})
	}
}

func TestTestFeedCountsPolls(t *testing.T) {
	feed := feeds.NewTestFeed()
	assert.NoError(t, feed.Configure(&feeds.Config{Type: feeds.TypeTest}))

	for i := 0; i < 3; i++ {
		assert.NoError(t, feed.Poll())
	}
	assert.Equal(t, 3, feed.Values()["polls"])
}
