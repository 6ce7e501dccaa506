package filter

import (
	"context"
	"regexp"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/trackbridge/internal/domain/track"
)

// DuplicateTrackFilter rejects tracks that are already queued.
// Detects:
// - Exact id or locator matches
// - Remasters (normalized title + same artist)
// Excludes:
// - Cover songs (same title but different artist)
type DuplicateTrackFilter struct {
	queue QueueLister
}

// QueueLister gives read access to the queue.
type QueueLister interface {
	Queue(ctx context.Context) ([]track.Track, error)
}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter(queue QueueLister) *DuplicateTrackFilter {
	return &DuplicateTrackFilter{
		queue: queue,
	}
}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

// Description returns the filter description.
func (f *DuplicateTrackFilter) Description() string {
	return "Rejects tracks already in the queue, remasters included. Covers by other artists are allowed"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// AppliesTo returns which origins this filter applies to.
func (f *DuplicateTrackFilter) AppliesTo(Origin) bool {
	return true
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTrackFilter) ValidateConfig(map[string]any) error {
	// No configuration needed
	return nil
}

// Check checks if the track is a duplicate.
func (f *DuplicateTrackFilter) Check(ctx context.Context, requested track.Track) Result {
	if f.queue == nil {
		return Accept()
	}
	queued, err := f.queue.Queue(ctx)
	if err != nil {
		zlog.Warn().Msgf("duplicate filter: failed to read queue: %v", err)
		return Accept()
	}

	for _, q := range queued {
		if q.ID == requested.ID || q.URL == requested.URL {
			return Reject("duplicate_track")
		}
		if isRemaster(q, requested) {
			return Reject("duplicate_track")
		}
	}
	return Accept()
}

// isRemaster checks if two tracks are the same song in another version.
func isRemaster(a, b track.Track) bool {
	if a.Title == "" || b.Title == "" {
		return false
	}
	if normalizeTitle(a.Title) != normalizeTitle(b.Title) {
		return false
	}
	// Same title by a different artist is a cover
	return a.Artist != "" && strings.EqualFold(a.Artist, b.Artist)
}

var (
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),              // "(Any Remaster text)"
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),              // "[Any Remaster text]"
		regexp.MustCompile(`\s*\(.*?version\)`),                  // "(Single Version)"
		regexp.MustCompile(`\s*\(.*?edit\)`),                     // "(Radio Edit)"
		regexp.MustCompile(`\s*\(live\)`),                        // "(Live)"
		regexp.MustCompile(`\s*-\s*live$`),                       // "- Live"
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),               // "- Radio Edit"
	}
	spaces = regexp.MustCompile(`\s+`)
)

// normalizeTitle strips remaster and version decorations.
func normalizeTitle(title string) string {
	normalized := strings.ToLower(title)
	for _, p := range versionPatterns {
		normalized = p.ReplaceAllString(normalized, "")
	}
	normalized = spaces.ReplaceAllString(strings.TrimSpace(normalized), " ")
	return strings.TrimRight(normalized, " -")
}

func init() {
	Register("duplicate_track_filter", func(d Deps) Filter {
		return NewDuplicateTrackFilter(d.Queue)
	})
}
