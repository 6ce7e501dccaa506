// Package track provides the queue item domain entity.
package track

import (
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// ErrInvalidTrack is returned when a host payload cannot become a Track.
var ErrInvalidTrack = errors.New("track is missing a required key")

// Track is one playable item in the queue.
// Tracks are never mutated once queued; replacing one means remove + add.
type Track struct {
	ID          string `validate:"required"`
	URL         string `validate:"required"`
	Title       string
	Artist      string
	Album       string
	Artwork     string
	ContentType string
	UserAgent   string
	Headers     map[string]string
	Duration    time.Duration // Hint from the host, zero when unknown
	Rating      Rating

	// Original is the payload the host submitted. It is handed back unchanged.
	Original map[string]any
}

// payload mirrors the keys a host sends for a track.
type payload struct {
	ID          string            `mapstructure:"id"`
	URL         any               `mapstructure:"url"`
	Title       string            `mapstructure:"title"`
	Artist      string            `mapstructure:"artist"`
	Album       string            `mapstructure:"album"`
	Artwork     any               `mapstructure:"artwork"`
	ContentType string            `mapstructure:"contentType"`
	UserAgent   string            `mapstructure:"userAgent"`
	Headers     map[string]string `mapstructure:"headers"`
	Duration    float64           `mapstructure:"duration"` // seconds
}

var validate = validator.New()

// FromMap builds a Track from a host payload.
// ratingType decides how the optional "rating" key is read.
func FromMap(m map[string]any, ratingType RatingType) (Track, error) {
	if m == nil {
		return Track{}, errors.Wrap(ErrInvalidTrack, "empty payload")
	}

	var p payload
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Track{}, errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(m); err != nil {
		return Track{}, errors.Wrapf(ErrInvalidTrack, "decode: %v", err)
	}
	if p.Duration < 0 {
		return Track{}, errors.Wrapf(ErrInvalidTrack, "negative duration %v", p.Duration)
	}

	t := Track{
		ID:          p.ID,
		URL:         locator(p.URL),
		Title:       p.Title,
		Artist:      p.Artist,
		Album:       p.Album,
		Artwork:     locator(p.Artwork),
		ContentType: p.ContentType,
		UserAgent:   p.UserAgent,
		Headers:     p.Headers,
		Duration:    time.Duration(p.Duration * float64(time.Second)),
		Rating:      NewRating(m["rating"], ratingType),
		Original:    m,
	}
	if err := t.Validate(); err != nil {
		return Track{}, err
	}
	return t, nil
}

// Validate checks the fields every queued track must carry.
func (t Track) Validate() error {
	if err := validate.Struct(t); err != nil {
		return errors.Wrapf(ErrInvalidTrack, "%v", err)
	}
	return nil
}

// locator accepts either a plain string or a resource object with a "uri" key.
func locator(v any) string {
	switch u := v.(type) {
	case string:
		return u
	case map[string]any:
		if s, ok := u["uri"].(string); ok {
			return s
		}
	}
	return ""
}

// IsLocal reports whether the locator points at something on this device.
// Local resources never go through the media cache.
func IsLocal(locator string) bool {
	u, err := url.Parse(locator)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "", "file", "content", "android.resource", "res":
		return true
	}
	switch u.Hostname() {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
