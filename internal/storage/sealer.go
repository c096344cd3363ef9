package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

const (
	flagGzip byte = 1 << iota
	flagEncrypted
)

var ErrSealedEntry = errors.New("sealed entry cannot be opened")

// Sealer turns a plain entry into its stored form: a flag byte followed by
// the payload, gzip-compressed when that is smaller and AES-GCM encrypted
// when a key is configured. Entries starting with '{' or '[' are plain JSON
// written before sealing existed.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives an AES-256 key from passphrase. An empty passphrase
// disables encryption.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return &Sealer{}, nil
	}
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

func (s *Sealer) Encrypted() bool {
	return s.aead != nil
}

func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	var flags byte
	payload := plain
	if zipped, err := gzipBytes(plain); err == nil && len(zipped) < len(plain) {
		payload, flags = zipped, flags|flagGzip
	}
	if s.aead != nil {
		nonce := make([]byte, s.aead.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, fmt.Errorf("nonce: %w", err)
		}
		payload = s.aead.Seal(nonce, nonce, payload, nil)
		flags |= flagEncrypted
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, flags)
	return append(out, payload...), nil
}

func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, ErrSealedEntry
	}
	if sealed[0] == '{' || sealed[0] == '[' {
		return sealed, nil
	}
	flags, payload := sealed[0], sealed[1:]
	if flags&^(flagGzip|flagEncrypted) != 0 {
		return nil, fmt.Errorf("%w: unknown flags %#x", ErrSealedEntry, flags)
	}
	if flags&flagEncrypted != 0 {
		if s.aead == nil {
			return nil, fmt.Errorf("%w: encrypted but no key configured", ErrSealedEntry)
		}
		n := s.aead.NonceSize()
		if len(payload) < n {
			return nil, fmt.Errorf("%w: short ciphertext", ErrSealedEntry)
		}
		plain, err := s.aead.Open(nil, payload[:n], payload[n:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSealedEntry, err)
		}
		payload = plain
	}
	if flags&flagGzip != 0 {
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSealedEntry, err)
		}
		defer r.Close()
		return io.ReadAll(r)
	}
	return payload, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
