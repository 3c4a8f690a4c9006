// Package filestore keeps credentials in a passphrase-encrypted file.
//
// The file holds a JSON envelope with the argon2id parameters, the salt, and
// an XChaCha20-Poly1305 sealed JSON map of kind to value. Every Get reads the
// file again so writes from other processes are observed.
package filestore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/go-auth-client/credentials"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var _ credentials.Store = (*FileStore)(nil)

const (
	envelopeVersion = 1
	saltLength      = 16
)

// KDFParams are the argon2id cost parameters.
type KDFParams struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"` // KiB
	Threads uint8  `json:"threads"`
}

// DefaultKDFParams follow the argon2id RFC 9106 second recommendation.
var DefaultKDFParams = KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}

type envelope struct {
	Version    int       `json:"version"`
	KDF        KDFParams `json:"kdf"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
}

// FileStore is safe for concurrent use within a process.
type FileStore struct {
	path string
	aead cipher.AEAD
	kdf  KDFParams
	salt []byte
	lock sync.Mutex
}

// Option configures a FileStore.
type Option func(*options)

type options struct {
	kdf KDFParams
}

// WithKDFParams overrides the argon2id parameters used when creating a new
// file. Existing files keep the parameters they were written with.
func WithKDFParams(p KDFParams) Option {
	return func(o *options) {
		o.kdf = p
	}
}

// Open opens the store at path, creating it when missing. A wrong passphrase
// for an existing file returns ErrInvalidPassphrase.
func Open(path, passphrase string, opts ...Option) (*FileStore, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: empty passphrase", apperrors.ErrInvalidConfig)
	}
	o := options{kdf: DefaultKDFParams}
	for _, opt := range opts {
		opt(&o)
	}

	env, err := readEnvelope(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		salt := make([]byte, saltLength)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		s, err := newFileStore(path, passphrase, o.kdf, salt)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create credential directory: %w", err)
		}
		if err := s.write(map[credentials.Kind]string{}); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, err
	}

	s, err := newFileStore(path, passphrase, env.KDF, env.Salt)
	if err != nil {
		return nil, err
	}
	if _, err := s.open(env); err != nil {
		return nil, err
	}
	return s, nil
}

func newFileStore(path, passphrase string, kdf KDFParams, salt []byte) (*FileStore, error) {
	key := argon2.IDKey([]byte(passphrase), salt, kdf.Time, kdf.Memory, kdf.Threads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &FileStore{path: path, aead: aead, kdf: kdf, salt: salt}, nil
}

func (s *FileStore) Get(_ context.Context, kind credentials.Kind) (string, error) {
	if err := credentials.ValidateKind(kind); err != nil {
		return "", err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	values, err := s.read()
	if err != nil {
		return "", err
	}
	v, ok := values[kind]
	if !ok {
		return "", credentials.ErrNotFound
	}
	return v, nil
}

func (s *FileStore) Save(_ context.Context, kind credentials.Kind, value string) error {
	if err := credentials.ValidateKind(kind); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	values[kind] = value
	return s.write(values)
}

func (s *FileStore) Remove(_ context.Context, kinds ...credentials.Kind) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	for _, kind := range kinds {
		delete(values, kind)
	}
	return s.write(values)
}

func (s *FileStore) read() (map[credentials.Kind]string, error) {
	env, err := readEnvelope(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[credentials.Kind]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.open(env)
}

func (s *FileStore) open(env *envelope) (map[credentials.Kind]string, error) {
	if len(env.Nonce) != s.aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length", apperrors.ErrCorruptStore)
	}
	plain, err := s.aead.Open(nil, env.Nonce, env.Ciphertext, s.salt)
	if err != nil {
		return nil, apperrors.ErrInvalidPassphrase
	}
	values := map[credentials.Kind]string{}
	if err := json.Unmarshal(plain, &values); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrCorruptStore, err)
	}
	return values, nil
}

func (s *FileStore) write(values map[credentials.Kind]string) error {
	plain, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	data, err := json.Marshal(envelope{
		Version:    envelopeVersion,
		KDF:        s.kdf,
		Salt:       s.salt,
		Nonce:      nonce,
		Ciphertext: s.aead.Seal(nil, nonce, plain, s.salt),
	})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credentials: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace credentials file: %w", err)
	}
	return nil
}

func readEnvelope(path string) (*envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrCorruptStore, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", apperrors.ErrCorruptStore, env.Version)
	}
	return &env, nil
}
