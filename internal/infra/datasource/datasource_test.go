package datasource

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "media.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func readAll(t *testing.T, src Source, spec Spec) []byte {
	t.Helper()
	r, err := src.Open(context.Background(), spec)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		locator string
		want    string
		wantErr bool
	}{
		{"/music/a.mp3", "/music/a.mp3", false},
		{"file:///music/a.mp3", "/music/a.mp3", false},
		{"content://media/1", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.locator, func(t *testing.T) {
			got, err := LocalPath(tt.locator)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileSource_Ranges(t *testing.T) {
	path := writeTemp(t, []byte("0123456789"))
	src := FileSource{}

	assert.Equal(t, []byte("0123456789"), readAll(t, src, Spec{URI: path, Length: LengthUnset}))
	assert.Equal(t, []byte("3456789"), readAll(t, src, Spec{URI: "file://" + path, Position: 3, Length: LengthUnset}))
	assert.Equal(t, []byte("234"), readAll(t, src, Spec{URI: path, Position: 2, Length: 3}))

	_, err := src.Open(context.Background(), Spec{URI: path, Position: 11, Length: LengthUnset})
	assert.True(t, errors.Is(err, ErrPositionOutOfRange))
}

func TestDecryptingFileSource(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	nonce := bytes.Repeat([]byte{9}, 12)
	dec, err := NewChaCha20Decryptor(key, nonce)
	require.NoError(t, err)

	plain := []byte(strings.Repeat("trackbridge media payload ", 20))
	cipherText := append([]byte(nil), plain...)
	dec.Decrypt(cipherText, 0)
	require.NotEqual(t, plain, cipherText)
	path := writeTemp(t, cipherText)

	resolve := func() (Decryptor, error) { return dec, nil }

	t.Run("whole file", func(t *testing.T) {
		src := NewDecryptingFileSource(true, resolve)
		assert.Equal(t, plain, readAll(t, src, Spec{URI: path, Length: LengthUnset}))
	})

	t.Run("unaligned range", func(t *testing.T) {
		src := NewDecryptingFileSource(true, resolve)
		got := readAll(t, src, Spec{URI: path, Position: 77, Length: 100})
		assert.Equal(t, plain[77:177], got)
	})

	t.Run("disabled is pass-through", func(t *testing.T) {
		src := NewDecryptingFileSource(false, resolve)
		assert.Equal(t, cipherText, readAll(t, src, Spec{URI: path, Length: LengthUnset}))
	})

	t.Run("unresolvable hook is pass-through", func(t *testing.T) {
		src := NewDecryptingFileSource(true, HexChaCha20Resolver("not-hex", "00"))
		assert.Equal(t, cipherText, readAll(t, src, Spec{URI: path, Length: LengthUnset}))
	})
}

func TestDecryptingFileSource_HookSeesFileOffsets(t *testing.T) {
	path := writeTemp(t, []byte("abcdefgh"))
	var offsets []int64
	hook := DecryptorFunc(func(p []byte, position int64) {
		offsets = append(offsets, position)
		for i := range p {
			p[i] -= 'a' - 'A'
		}
	})
	src := NewDecryptingFileSource(true, func() (Decryptor, error) { return hook, nil })

	r, err := src.Open(context.Background(), Spec{URI: path, Position: 2, Length: LengthUnset})
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 3)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "CDE", string(buf[:n]))
	n, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "FGH", string(buf[:n]))
	assert.Equal(t, []int64{2, 5}, offsets)
}

func TestHTTPSource(t *testing.T) {
	body := []byte("0123456789")
	var gotUA, gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotRange = r.Header.Get("Range")
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "a.bin", time.Time{}, bytes.NewReader(body))
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPConfig{UserAgent: "trackbridge-test"})

	assert.Equal(t, body, readAll(t, src, Spec{URI: srv.URL + "/a", Length: LengthUnset}))
	assert.Equal(t, "trackbridge-test", gotUA)
	assert.Empty(t, gotRange)

	assert.Equal(t, []byte("4567"), readAll(t, src, Spec{URI: srv.URL + "/a", Position: 4, Length: 4}))
	assert.Equal(t, "bytes=4-7", gotRange)

	readAll(t, src, Spec{URI: srv.URL + "/a", Position: 1, Length: LengthUnset, UserAgent: "custom"})
	assert.Equal(t, "custom", gotUA)

	_, err := src.Open(context.Background(), Spec{URI: srv.URL + "/missing", Length: LengthUnset})
	assert.Error(t, err)
}

func TestHTTPSource_IgnoredRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPConfig{})
	assert.Equal(t, []byte("567"), readAll(t, src, Spec{URI: srv.URL, Position: 5, Length: 3}))
}

func TestHTTPSource_ReportsResourceSize(t *testing.T) {
	body := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/stream" {
			_, _ = w.Write(body[:5])
			w.(http.Flusher).Flush()
			_, _ = w.Write(body[5:])
			return
		}
		http.ServeContent(w, r, "a.bin", time.Time{}, bytes.NewReader(body))
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPConfig{})
	size := func(spec Spec) int64 {
		t.Helper()
		r, err := src.Open(context.Background(), spec)
		require.NoError(t, err)
		defer r.Close()
		sized, ok := r.(Sized)
		require.True(t, ok)
		return sized.Size()
	}

	assert.Equal(t, int64(10), size(Spec{URI: srv.URL + "/a", Length: LengthUnset}))
	assert.Equal(t, int64(10), size(Spec{URI: srv.URL + "/a", Position: 4, Length: 4}))
	assert.Equal(t, LengthUnset, size(Spec{URI: srv.URL + "/stream", Length: LengthUnset}))
}
