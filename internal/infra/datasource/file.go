package datasource

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// LocalPath turns a local locator into a filesystem path.
// Platform resource schemes (content, android.resource, res) cannot be opened here.
func LocalPath(locator string) (string, error) {
	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" {
		return locator, nil
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return u.Path, nil
	default:
		return "", errors.Newf("unsupported local scheme %q", u.Scheme)
	}
}

// FileSource reads local files.
type FileSource struct{}

// Open opens the file named by spec.URI positioned at spec.Position.
func (FileSource) Open(_ context.Context, spec Spec) (io.ReadCloser, error) {
	f, remaining, err := openRange(spec)
	if err != nil {
		return nil, err
	}
	return &fileReader{f: f, remaining: remaining}, nil
}

// openRange opens the file, seeks to the requested position and returns how many
// bytes the spec allows to be read.
func openRange(spec Spec) (*os.File, int64, error) {
	path, err := LocalPath(spec.URI)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to open %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, errors.Wrapf(err, "failed to stat %s", path)
	}

	remaining := spec.Length
	if remaining == LengthUnset {
		remaining = info.Size() - spec.Position
	}
	if spec.Position < 0 || remaining < 0 {
		_ = f.Close()
		return nil, 0, errors.Wrapf(ErrPositionOutOfRange, "%s at %d", path, spec.Position)
	}
	if _, err := f.Seek(spec.Position, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, 0, errors.Wrapf(err, "failed to seek %s", path)
	}
	return f, remaining, nil
}

type fileReader struct {
	f         *os.File
	remaining int64
}

func (r *fileReader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.f.Read(p)
	r.remaining -= int64(n)
	return n, err
}

func (r *fileReader) Close() error {
	return r.f.Close()
}
