package envelope

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// dataKeySize is the AES-256 data key length.
const dataKeySize = 32

// KeyService issues and unwraps data encryption keys. Production deployments
// back this with an external key-management service; LocalKeyService stands
// in for local development and tests.
type KeyService interface {
	// GenerateDataKey returns a fresh plaintext data key together with its
	// wrapped form. Only the wrapped form may be persisted.
	GenerateDataKey(ctx context.Context) (plain, wrapped []byte, err error)

	// UnwrapDataKey recovers the plaintext data key from its wrapped form.
	UnwrapDataKey(ctx context.Context, wrapped []byte) ([]byte, error)
}

// LocalKeyService wraps data keys with a process-local 32-byte master key
// using AES-GCM. The master key itself never leaves the process.
type LocalKeyService struct {
	master []byte
}

// NewLocalKeyService creates a key service from a 32-byte master key.
func NewLocalKeyService(master []byte) (*LocalKeyService, error) {
	if len(master) != dataKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", dataKeySize, len(master))
	}
	key := make([]byte, dataKeySize)
	copy(key, master)
	return &LocalKeyService{master: key}, nil
}

func (s *LocalKeyService) GenerateDataKey(ctx context.Context) ([]byte, []byte, error) {
	plain := make([]byte, dataKeySize)
	if _, err := io.ReadFull(rand.Reader, plain); err != nil {
		return nil, nil, fmt.Errorf("generate data key: %w", err)
	}

	gcm, err := newGCM(s.master)
	if err != nil {
		return nil, nil, fmt.Errorf("wrap data key: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("wrap data key: %w", err)
	}

	wrapped := gcm.Seal(nonce, nonce, plain, nil)
	return plain, wrapped, nil
}

func (s *LocalKeyService) UnwrapDataKey(ctx context.Context, wrapped []byte) ([]byte, error) {
	gcm, err := newGCM(s.master)
	if err != nil {
		return nil, fmt.Errorf("unwrap data key: %w", err)
	}
	if len(wrapped) < gcm.NonceSize() {
		return nil, errors.New("unwrap data key: truncated input")
	}
	nonce := wrapped[:gcm.NonceSize()]
	plain, err := gcm.Open(nil, nonce, wrapped[gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap data key: %w", err)
	}
	return plain, nil
}
