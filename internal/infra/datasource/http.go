package datasource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// HTTPConfig represents HTTP source configuration.
type HTTPConfig struct {
	UserAgent      string
	ConnectTimeout time.Duration
}

// HTTPSource reads remote resources with range requests.
type HTTPSource struct {
	userAgent  string
	httpClient *http.Client
}

// NewHTTPSource creates a new HTTP source.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ConnectTimeout > 0 {
		transport.ResponseHeaderTimeout = cfg.ConnectTimeout
	}
	return &HTTPSource{
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Transport: transport},
	}
}

// Open issues a GET for the requested range.
func (s *HTTPSource) Open(ctx context.Context, spec Spec) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URI, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	if ua := spec.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	} else if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	if spec.Position > 0 || spec.Length != LengthUnset {
		rng := fmt.Sprintf("bytes=%d-", spec.Position)
		if spec.Length != LengthUnset {
			rng += fmt.Sprintf("%d", spec.Position+spec.Length-1)
		}
		req.Header.Set("Range", rng)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// Server ignored the range.
		if spec.Position > 0 {
			zlog.Debug().Msgf("range ignored by %s, skipping %d bytes", req.URL.Host, spec.Position)
			if _, err := io.CopyN(io.Discard, resp.Body, spec.Position); err != nil {
				_ = resp.Body.Close()
				return nil, errors.Wrap(err, "failed to skip to position")
			}
		}
	case http.StatusRequestedRangeNotSatisfiable:
		_ = resp.Body.Close()
		return nil, errors.Wrapf(ErrPositionOutOfRange, "%s at %d", spec.URI, spec.Position)
	default:
		_ = resp.Body.Close()
		return nil, errors.Newf("unexpected status %d from %s", resp.StatusCode, spec.URI)
	}

	body := &httpBody{Reader: resp.Body, body: resp.Body, size: resourceSize(resp)}
	if spec.Length != LengthUnset {
		body.Reader = io.LimitReader(resp.Body, spec.Length)
	}
	return body, nil
}

// resourceSize reads the total length from Content-Range, or from
// Content-Length when the whole resource was sent.
func resourceSize(resp *http.Response) int64 {
	if resp.StatusCode == http.StatusOK {
		if resp.ContentLength < 0 {
			return LengthUnset
		}
		return resp.ContentLength
	}
	cr := resp.Header.Get("Content-Range")
	i := strings.LastIndexByte(cr, '/')
	if i < 0 {
		return LengthUnset
	}
	total, err := strconv.ParseInt(cr[i+1:], 10, 64)
	if err != nil || total < 0 {
		return LengthUnset
	}
	return total
}

type httpBody struct {
	io.Reader
	body io.Closer
	size int64
}

func (b *httpBody) Size() int64 {
	return b.size
}

func (b *httpBody) Close() error {
	return b.body.Close()
}
