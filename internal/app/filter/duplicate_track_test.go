package filter

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/osa030/trackbridge/internal/domain/track"
)

type stubQueue struct {
	tracks []track.Track
	err    error
}

func (s *stubQueue) Queue(context.Context) ([]track.Track, error) {
	return s.tracks, s.err
}

func TestDuplicateTrackFilter_Check(t *testing.T) {
	tests := []struct {
		name         string
		queued       track.Track
		requested    track.Track
		shouldReject bool
	}{
		{
			name:         "same id",
			queued:       track.Track{ID: "t1", URL: "https://cdn/a.mp3"},
			requested:    track.Track{ID: "t1", URL: "https://cdn/other.mp3"},
			shouldReject: true,
		},
		{
			name:         "same locator",
			queued:       track.Track{ID: "t1", URL: "https://cdn/a.mp3"},
			requested:    track.Track{ID: "t2", URL: "https://cdn/a.mp3"},
			shouldReject: true,
		},
		{
			name:         "remaster by the same artist",
			queued:       track.Track{ID: "t1", URL: "https://cdn/1", Title: "Heroes", Artist: "David Bowie"},
			requested:    track.Track{ID: "t2", URL: "https://cdn/2", Title: "Heroes - 2017 Remaster", Artist: "david bowie"},
			shouldReject: true,
		},
		{
			name:         "cover by another artist",
			queued:       track.Track{ID: "t1", URL: "https://cdn/1", Title: "Heroes", Artist: "David Bowie"},
			requested:    track.Track{ID: "t2", URL: "https://cdn/2", Title: "Heroes", Artist: "Peter Gabriel"},
			shouldReject: false,
		},
		{
			name:         "remix is a different track",
			queued:       track.Track{ID: "t1", URL: "https://cdn/1", Title: "Blue Monday", Artist: "New Order"},
			requested:    track.Track{ID: "t2", URL: "https://cdn/2", Title: "Blue Monday (Hardfloor Remix)", Artist: "New Order"},
			shouldReject: false,
		},
		{
			name:         "untitled tracks only match by id or locator",
			queued:       track.Track{ID: "t1", URL: "https://cdn/1"},
			requested:    track.Track{ID: "t2", URL: "https://cdn/2"},
			shouldReject: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewDuplicateTrackFilter(&stubQueue{tracks: []track.Track{tt.queued}})
			result := f.Check(context.Background(), tt.requested)

			if tt.shouldReject {
				assert.False(t, result.Accepted)
				assert.Equal(t, "duplicate_track", result.Code)
			} else {
				assert.True(t, result.Accepted)
			}
		})
	}
}

func TestDuplicateTrackFilter_QueueUnavailable(t *testing.T) {
	f := NewDuplicateTrackFilter(&stubQueue{err: errors.New("closed")})
	assert.True(t, f.Check(context.Background(), track.Track{ID: "t1"}).Accepted)

	f = NewDuplicateTrackFilter(nil)
	assert.True(t, f.Check(context.Background(), track.Track{ID: "t1"}).Accepted)
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Heroes", "heroes"},
		{"Heroes - 2017 Remaster", "heroes"},
		{"Wonderwall (Remastered 2014)", "wonderwall"},
		{"Karma Police [Remastered]", "karma police"},
		{"Creep (Radio Edit)", "creep"},
		{"Wish You Were Here - Live", "wish you were here"},
		{"Alive", "alive"},
		{"Song 2 (Single Version)", "song 2"},
		{"Come Together (2019 Mix)", "come together (2019 mix)"},
		{"  Lots   of   Space  ", "lots of space"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeTitle(tt.input))
		})
	}
}
