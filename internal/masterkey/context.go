package masterkey

import (
	"sync"

	"github.com/haierkeys/fast-pass-sync/pkg/cipher"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"
)

// EncryptionContext is the only handle on the master key. It is valid for the
// duration of one WithEncryptionContext callback and must not be retained.
type EncryptionContext struct {
	mu     sync.RWMutex
	key    []byte
	engine *cipher.Engine
	opts   []cipher.Option
	closed bool
}

func (c *EncryptionContext) current() (*cipher.Engine, error) {
	if c.closed || c.engine == nil {
		return nil, apperrors.New(code.ErrorContextClosed, nil)
	}
	return c.engine, nil
}

// Encrypt seals plaintext under the master key.
func (c *EncryptionContext) Encrypt(plaintext []byte, tag cipher.EncryptionTag) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, err := c.current()
	if err != nil {
		return nil, err
	}
	return e.Encrypt(plaintext, tag)
}

// Decrypt opens a ciphertext sealed under the master key.
func (c *EncryptionContext) Decrypt(ciphertext []byte, tag cipher.EncryptionTag) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, err := c.current()
	if err != nil {
		return nil, err
	}
	return e.Decrypt(ciphertext, tag)
}

// WrapKey seals a raw data key under the master key. The raw key is not retained.
func (c *EncryptionContext) WrapKey(raw []byte, tag cipher.EncryptionTag) ([]byte, error) {
	return c.Encrypt(raw, tag)
}

// OpenKey unwraps a data key and returns an Engine bound to it. The unwrapped
// bytes are zeroed before OpenKey returns.
func (c *EncryptionContext) OpenKey(wrapped []byte, tag cipher.EncryptionTag) (*cipher.Engine, error) {
	raw, err := c.Decrypt(wrapped, tag)
	if err != nil {
		return nil, err
	}
	defer cipher.Zero(raw)
	return cipher.New(raw, c.opts...)
}

// Options returns the cipher options data-key engines should be built with.
func (c *EncryptionContext) Options() []cipher.Option {
	return c.opts
}

func (c *EncryptionContext) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cipher.Zero(c.key)
	c.engine = nil
	c.closed = true
}
