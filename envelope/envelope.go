// Package envelope provides envelope encryption for opaque byte payloads.
// Each payload is sealed with a fresh AES-256-GCM data key; the data key is
// wrapped by an external KeyService so plaintext keys never persist with the
// data. With no KeyService configured the gateway runs in pass-through mode
// and warns exactly once.
package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/quietriver/mnemo/core"
)

// formatVersion is the first byte of every sealed payload.
const formatVersion = 0x01

// Gateway encrypts and decrypts byte payloads. Implementations must not
// cache derived plaintext or ciphertext.
type Gateway interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// AESGateway is the envelope Gateway implementation. A nil KeyService puts
// the gateway in pass-through mode: input is returned unchanged, a deliberate
// fail-open policy for local environments.
type AESGateway struct {
	keys     KeyService
	log      *bolt.Logger
	warnOnce sync.Once
}

// New creates a gateway. keys may be nil for pass-through mode; log may be
// nil to discard.
func New(keys KeyService, log *bolt.Logger) *AESGateway {
	if log == nil {
		log = bolt.New(bolt.NewConsoleHandler(io.Discard))
	}
	return &AESGateway{keys: keys, log: log}
}

// Encrypt seals plaintext under a fresh wrapped data key.
// Layout: version | uint16 wrapped-key length | wrapped key | nonce | sealed.
func (g *AESGateway) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if g.keys == nil {
		g.warnPassthrough()
		return plaintext, nil
	}

	dataKey, wrapped, err := g.keys.GenerateDataKey(ctx)
	if err != nil {
		return nil, &core.CryptoError{Op: "envelope: generate data key", Err: err}
	}

	gcm, err := newGCM(dataKey)
	if err != nil {
		return nil, &core.CryptoError{Op: "envelope: encrypt", Err: err}
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, &core.CryptoError{Op: "envelope: nonce", Err: err}
	}

	if len(wrapped) > 0xffff {
		return nil, &core.CryptoError{Op: "envelope: encrypt", Err: fmt.Errorf("wrapped key too large (%d bytes)", len(wrapped))}
	}

	out := make([]byte, 0, 3+len(wrapped)+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, formatVersion)
	out = binary.BigEndian.AppendUint16(out, uint16(len(wrapped)))
	out = append(out, wrapped...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Decrypt opens a sealed payload. Malformed or truncated input fails with a
// CryptoError; the raw bytes are never returned as plaintext in that case.
func (g *AESGateway) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if g.keys == nil {
		g.warnPassthrough()
		return ciphertext, nil
	}

	if len(ciphertext) < 3 || ciphertext[0] != formatVersion {
		return nil, &core.CryptoError{Op: "envelope: decrypt", Err: errors.New("malformed envelope header")}
	}

	wrappedLen := int(binary.BigEndian.Uint16(ciphertext[1:3]))
	rest := ciphertext[3:]
	if len(rest) < wrappedLen {
		return nil, &core.CryptoError{Op: "envelope: decrypt", Err: errors.New("truncated wrapped key")}
	}
	wrapped := rest[:wrappedLen]
	rest = rest[wrappedLen:]

	dataKey, err := g.keys.UnwrapDataKey(ctx, wrapped)
	if err != nil {
		return nil, &core.CryptoError{Op: "envelope: unwrap data key", Err: err}
	}

	gcm, err := newGCM(dataKey)
	if err != nil {
		return nil, &core.CryptoError{Op: "envelope: decrypt", Err: err}
	}

	if len(rest) < gcm.NonceSize() {
		return nil, &core.CryptoError{Op: "envelope: decrypt", Err: errors.New("truncated nonce")}
	}
	nonce := rest[:gcm.NonceSize()]
	sealed := rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, &core.CryptoError{Op: "envelope: decrypt", Err: err}
	}
	if plaintext == nil {
		// Open returns nil for an empty plaintext.
		plaintext = []byte{}
	}
	return plaintext, nil
}

func (g *AESGateway) warnPassthrough() {
	g.warnOnce.Do(func() {
		g.log.Warn().Msg("no key service configured, encryption gateway running in pass-through mode")
	})
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
