package datasource

import (
	"context"
	"encoding/hex"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20"
)

// Decryptor transforms bytes read from an encrypted file in place.
// position is the file offset of p[0].
type Decryptor interface {
	Decrypt(p []byte, position int64)
}

// DecryptorFunc adapts a function to Decryptor.
type DecryptorFunc func(p []byte, position int64)

// Decrypt calls f.
func (f DecryptorFunc) Decrypt(p []byte, position int64) {
	f(p, position)
}

// DecryptingFileSource reads local files and decrypts every chunk as it is read.
type DecryptingFileSource struct {
	enabled bool
	hook    Decryptor
}

// NewDecryptingFileSource creates a decrypting file source. The decryptor is
// resolved once here; when resolve fails the source reads files unchanged.
func NewDecryptingFileSource(enabled bool, resolve func() (Decryptor, error)) *DecryptingFileSource {
	s := &DecryptingFileSource{enabled: enabled}
	if !enabled || resolve == nil {
		return s
	}
	hook, err := resolve()
	if err != nil {
		zlog.Warn().Err(err).Msg("decryptor unavailable, local files are read as-is")
		return s
	}
	s.hook = hook
	return s
}

// Open opens the file named by spec.URI positioned at spec.Position.
func (s *DecryptingFileSource) Open(_ context.Context, spec Spec) (io.ReadCloser, error) {
	f, remaining, err := openRange(spec)
	if err != nil {
		return nil, err
	}
	r := &decryptingReader{f: f, remaining: remaining, position: spec.Position}
	if s.enabled {
		r.hook = s.hook
	}
	return r, nil
}

type decryptingReader struct {
	f         *os.File
	hook      Decryptor
	remaining int64
	position  int64
}

func (r *decryptingReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.remaining == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.f.Read(p)
	if n > 0 {
		if r.hook != nil {
			r.hook.Decrypt(p[:n], r.position)
		}
		r.remaining -= int64(n)
		r.position += int64(n)
	}
	return n, err
}

func (r *decryptingReader) Close() error {
	return r.f.Close()
}

const chachaBlockSize = 64

// ChaCha20Decryptor applies a ChaCha20 keystream addressed by file offset, so
// any range of the file can be decrypted independently.
type ChaCha20Decryptor struct {
	key   []byte
	nonce []byte
}

// NewChaCha20Decryptor creates a decryptor from a 32-byte key and a 12-byte nonce.
func NewChaCha20Decryptor(key, nonce []byte) (*ChaCha20Decryptor, error) {
	if len(key) != chacha20.KeySize {
		return nil, errors.Newf("key must be %d bytes, got %d", chacha20.KeySize, len(key))
	}
	if len(nonce) != chacha20.NonceSize {
		return nil, errors.Newf("nonce must be %d bytes, got %d", chacha20.NonceSize, len(nonce))
	}
	return &ChaCha20Decryptor{key: key, nonce: nonce}, nil
}

// Decrypt XORs p with the keystream starting at position.
func (d *ChaCha20Decryptor) Decrypt(p []byte, position int64) {
	c, err := chacha20.NewUnauthenticatedCipher(d.key, d.nonce)
	if err != nil {
		zlog.Error().Err(err).Msg("failed to create cipher")
		return
	}
	c.SetCounter(uint32(position / chachaBlockSize))
	if skip := position % chachaBlockSize; skip > 0 {
		discard := make([]byte, skip)
		c.XORKeyStream(discard, discard)
	}
	c.XORKeyStream(p, p)
}

// HexChaCha20Resolver returns a resolver that builds a ChaCha20Decryptor from
// hex-encoded key and nonce.
func HexChaCha20Resolver(keyHex, nonceHex string) func() (Decryptor, error) {
	return func() (Decryptor, error) {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, errors.Wrap(err, "invalid decryption key")
		}
		nonce, err := hex.DecodeString(nonceHex)
		if err != nil {
			return nil, errors.Wrap(err, "invalid decryption nonce")
		}
		return NewChaCha20Decryptor(key, nonce)
	}
}
