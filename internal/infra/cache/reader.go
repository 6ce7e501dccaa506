package cache

import (
	"context"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/trackbridge/internal/infra/datasource"
)

type cachedSource struct {
	cache    *Cache
	upstream datasource.Source
}

// Open opens a read session. The first segment is opened eagerly so upstream
// failures surface here.
func (s *cachedSource) Open(ctx context.Context, spec datasource.Spec) (io.ReadCloser, error) {
	r := &reader{
		cache:    s.cache,
		upstream: s.upstream,
		ctx:      ctx,
		spec:     spec,
		key:      spec.Key(),
		pos:      spec.Position,
		end:      -1,
	}
	if spec.Length != datasource.LengthUnset {
		r.end = spec.Position + spec.Length
	}
	r.cache.acquire(r.key)

	if err := r.openSegment(); err != nil && !errors.Is(err, io.EOF) {
		r.cache.releaseSession(r.key)
		return nil, err
	}
	return r, nil
}

type reader struct {
	cache    *Cache
	upstream datasource.Source
	ctx      context.Context
	spec     datasource.Spec
	key      string
	pos      int64
	end      int64 // -1 when unbounded

	cur         io.ReadCloser
	curSpan     *span // set when cur reads a cached span
	segRead     int64
	segLength   int64 // length requested from upstream for cur
	ignoreCache bool
	eof         bool
	closed      bool

	tmp     *os.File
	writing *span // span being filled from upstream
}

func (r *reader) Read(p []byte) (int, error) {
	for {
		if r.eof || (r.end >= 0 && r.pos >= r.end) {
			return 0, io.EOF
		}
		if r.cur == nil {
			if err := r.openSegment(); err != nil {
				if errors.Is(err, io.EOF) {
					r.eof = true
				}
				return 0, err
			}
			continue
		}
		if r.end >= 0 && int64(len(p)) > r.end-r.pos {
			p = p[:r.end-r.pos]
		}

		n, err := r.cur.Read(p)
		if n > 0 {
			r.write(p[:n])
			r.pos += int64(n)
			r.segRead += int64(n)
		}
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, io.EOF):
			fromUpstream := r.curSpan == nil
			empty := r.segRead == 0
			if fromUpstream && r.segLength == datasource.LengthUnset {
				r.cache.setLength(r.key, r.pos)
			}
			r.closeSegment()
			if fromUpstream && empty {
				r.eof = true
			}
			if n > 0 {
				return n, nil
			}
		case r.curSpan != nil:
			r.dropBrokenSpan(err)
			if n > 0 {
				return n, nil
			}
		default:
			r.closeSegment()
			return n, err
		}
	}
}

func (r *reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.closeSegment()
	r.cache.releaseSession(r.key)
	return nil
}

// openSegment positions cur at r.pos, either on a cached span or upstream.
func (r *reader) openSegment() error {
	r.segRead = 0
	if n, ok := r.cache.length(r.key); ok && r.pos >= n {
		if r.pos > n && r.pos == r.spec.Position {
			return errors.Wrapf(datasource.ErrPositionOutOfRange, "%s at %d", r.key, r.pos)
		}
		return io.EOF
	}
	next := int64(-1)
	if !r.ignoreCache {
		var s *span
		s, next = r.cache.lookup(r.key, r.pos)
		r.cache.observer.Lookup(s != nil)
		if s != nil {
			err := r.openSpan(s)
			if err == nil {
				return nil
			}
			r.cache.observer.IOError()
			zlog.Warn().Err(err).Msgf("cache span unreadable, reading %s upstream", r.key)
			r.cache.drop(s)
			r.ignoreCache = true
			next = -1
		}
	}

	length := datasource.LengthUnset
	if next >= 0 {
		length = next - r.pos
	}
	if r.end >= 0 && (length == datasource.LengthUnset || r.pos+length > r.end) {
		length = r.end - r.pos
	}

	spec := r.spec
	spec.Position = r.pos
	spec.Length = length
	rc, err := r.upstream.Open(r.ctx, spec)
	if err != nil {
		if errors.Is(err, datasource.ErrPositionOutOfRange) && r.pos > r.spec.Position {
			// The previous segment ended exactly at the end of the resource.
			r.cache.setLength(r.key, r.pos)
			return io.EOF
		}
		return err
	}
	if sized, ok := rc.(datasource.Sized); ok {
		r.cache.setLength(r.key, sized.Size())
	}
	r.cur = rc
	r.curSpan = nil
	r.segLength = length

	if !r.ignoreCache {
		f, err := r.cache.createSpanFile(r.key)
		if err != nil {
			r.cache.observer.IOError()
			zlog.Warn().Err(err).Msg("failed to create cache file")
			return nil
		}
		r.tmp = f
		r.writing = &span{key: r.key, start: r.pos, file: f.Name()}
	}
	return nil
}

func (r *reader) openSpan(s *span) error {
	f, err := os.Open(s.file)
	if err != nil {
		return err
	}
	if _, err := f.Seek(r.pos-s.start, io.SeekStart); err != nil {
		_ = f.Close()
		return err
	}
	r.cur = &spanReader{Reader: io.LimitReader(f, s.end()-r.pos), f: f}
	r.curSpan = s
	return nil
}

// write tees upstream bytes into the span file while the budget allows it.
func (r *reader) write(p []byte) {
	if r.writing == nil {
		return
	}
	n := int64(len(p))
	if !r.cache.reserve(n) {
		zlog.Debug().Msgf("cache budget exhausted, stop caching %s", r.key)
		r.finishWriting()
		return
	}
	if _, err := r.tmp.Write(p); err != nil {
		r.cache.release(n)
		r.cache.observer.IOError()
		zlog.Warn().Err(err).Msg("failed to write cache file")
		r.abortWriting()
		return
	}
	r.writing.length += n
}

func (r *reader) finishWriting() {
	if r.writing == nil {
		return
	}
	s := r.writing
	err := r.tmp.Close()
	r.tmp, r.writing = nil, nil
	switch {
	case err != nil:
		r.cache.release(s.length)
		r.cache.observer.IOError()
		_ = os.Remove(s.file)
	case s.length == 0:
		_ = os.Remove(s.file)
	default:
		r.cache.commit(s)
	}
}

func (r *reader) abortWriting() {
	if r.writing == nil {
		return
	}
	r.cache.release(r.writing.length)
	_ = r.tmp.Close()
	_ = os.Remove(r.writing.file)
	r.tmp, r.writing = nil, nil
}

func (r *reader) closeSegment() {
	if r.cur != nil {
		_ = r.cur.Close()
		r.cur = nil
	}
	r.curSpan = nil
	r.finishWriting()
}

func (r *reader) dropBrokenSpan(err error) {
	s := r.curSpan
	r.cache.observer.IOError()
	zlog.Warn().Err(err).Msgf("cache read failed, reading %s upstream", r.key)
	r.closeSegment()
	r.cache.drop(s)
	r.ignoreCache = true
}

type spanReader struct {
	io.Reader
	f *os.File
}

func (r *spanReader) Close() error {
	return r.f.Close()
}
