// Package media turns queue items into engine sources.
package media

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/osa030/trackbridge/internal/domain/track"
	"github.com/osa030/trackbridge/internal/infra/datasource"
	"github.com/osa030/trackbridge/internal/infra/engine"
)

// ErrUnsupportedFormat is returned when the audio container is not recognized.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Format is a supported audio container.
type Format int

const (
	FormatUnknown Format = iota
	FormatMP3
	FormatFLAC
	FormatWAV
)

func (f Format) String() string {
	switch f {
	case FormatMP3:
		return "mp3"
	case FormatFLAC:
		return "flac"
	case FormatWAV:
		return "wav"
	default:
		return "unknown"
	}
}

// Factory routes tracks to a local, remote or direct data source.
type Factory struct {
	local  datasource.Source
	remote datasource.Source
	direct datasource.Source
}

// NewFactory creates a factory. local is usually a decrypting file source,
// remote an HTTP source wrapped by the media cache and direct the same HTTP
// source without the cache, used for servers on this device.
func NewFactory(local, remote, direct datasource.Source) *Factory {
	return &Factory{local: local, remote: remote, direct: direct}
}

// Source returns the engine source for t.
func (f *Factory) Source(t track.Track) engine.Source {
	return &trackSource{track: t, ds: f.route(t.URL)}
}

// Sources maps tracks to engine sources.
func (f *Factory) Sources(tracks []track.Track) []engine.Source {
	return lo.Map(tracks, func(t track.Track, _ int) engine.Source {
		return f.Source(t)
	})
}

func (f *Factory) route(locator string) datasource.Source {
	switch {
	case !track.IsLocal(locator):
		return f.remote
	case isHTTP(locator):
		return f.direct
	default:
		return f.local
	}
}

func isHTTP(locator string) bool {
	u, err := url.Parse(locator)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

type trackSource struct {
	track track.Track
	ds    datasource.Source
}

func (s *trackSource) ID() string { return s.track.ID }

func (s *trackSource) DurationHint() int64 {
	if s.track.Duration <= 0 {
		return engine.TimeUnset
	}
	return s.track.Duration.Milliseconds()
}

// Load reads the whole resource and decodes it.
func (s *trackSource) Load(ctx context.Context) (engine.Media, error) {
	rc, err := s.ds.Open(ctx, datasource.Spec{
		URI:       s.track.URL,
		Length:    datasource.LengthUnset,
		Headers:   s.track.Headers,
		UserAgent: s.track.UserAgent,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", s.track.URL)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", s.track.URL)
	}

	m, err := Decode(data, s.track.ContentType)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", s.track.URL)
	}
	zlog.Debug().Msgf("loaded %s: %d Hz, %v", s.track.ID, m.Format().SampleRate, m.Duration())
	return m, nil
}

// Detect identifies the container from its leading bytes, falling back to the
// declared content type.
func Detect(data []byte, contentType string) Format {
	switch {
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatFLAC
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WAVE":
		return FormatWAV
	}

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return FormatMP3
	case strings.Contains(ct, "flac"):
		return FormatFLAC
	case strings.Contains(ct, "wav"):
		return FormatWAV
	}
	return FormatUnknown
}

// Decode decodes an in-memory resource.
func Decode(data []byte, contentType string) (engine.Media, error) {
	rc := &bytesReadCloser{Reader: bytes.NewReader(data)}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	switch f := Detect(data, contentType); f {
	case FormatMP3:
		streamer, format, err = mp3.Decode(rc)
	case FormatFLAC:
		streamer, format, err = flac.Decode(rc)
	case FormatWAV:
		streamer, format, err = wav.Decode(rc)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "content type %q", contentType)
	}
	if err != nil {
		return nil, err
	}
	return &decoded{streamer: streamer, format: format}, nil
}

type decoded struct {
	streamer beep.StreamSeekCloser
	format   beep.Format
}

func (d *decoded) Duration() time.Duration         { return d.format.SampleRate.D(d.streamer.Len()) }
func (d *decoded) Streamer() beep.StreamSeekCloser { return d.streamer }
func (d *decoded) Format() beep.Format             { return d.format }
func (d *decoded) Close() error                    { return d.streamer.Close() }

// bytesReadCloser keeps the decoders seekable.
type bytesReadCloser struct {
	*bytes.Reader
}

func (bytesReadCloser) Close() error { return nil }
