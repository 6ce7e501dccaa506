package filter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/trackbridge/internal/domain/track"
)

func TestDurationLimitFilter_Check(t *testing.T) {
	tests := []struct {
		name          string
		minSeconds    float64
		maxSeconds    float64
		trackDuration time.Duration
		shouldReject  bool
	}{
		{"within limits", 30, 600, 3 * time.Minute, false},
		{"too short", 30, 0, 10 * time.Second, true},
		{"too long", 0, 600, 11 * time.Minute, true},
		{"exact min", 30, 0, 30 * time.Second, false},
		{"exact max", 0, 600, 10 * time.Minute, false},
		{"unknown duration passes", 30, 600, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewDurationLimitFilter()
			f.config = &DurationLimitConfig{
				MinSeconds: tt.minSeconds,
				MaxSeconds: tt.maxSeconds,
			}

			result := f.Check(context.Background(), track.Track{Duration: tt.trackDuration})

			if tt.shouldReject {
				assert.False(t, result.Accepted)
				assert.Equal(t, "duration_limit_exceeded", result.Code)
			} else {
				assert.True(t, result.Accepted)
			}
		})
	}
}

func TestDurationLimitFilter_Unconfigured(t *testing.T) {
	f := NewDurationLimitFilter()
	assert.True(t, f.Check(context.Background(), track.Track{Duration: time.Hour}).Accepted)
}

func TestDurationLimitFilter_ValidateConfig(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		wantErr  bool
	}{
		{"valid config", map[string]any{"min_seconds": 30.5, "max_seconds": 600.0}, false},
		{"valid integers", map[string]any{"min_seconds": 30, "max_seconds": 600}, false},
		{"min greater than max", map[string]any{"min_seconds": 700, "max_seconds": 600}, true},
		{"negative min", map[string]any{"min_seconds": -1}, true},
		{"zero max means no limit", map[string]any{"max_seconds": 0}, false},
		{"negative max", map[string]any{"max_seconds": -1}, true},
		{"empty settings", map[string]any{}, false},
		{"nil settings", nil, false},
		{"wrong type", map[string]any{"min_seconds": "soon"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewDurationLimitFilter().ValidateConfig(tt.settings)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
