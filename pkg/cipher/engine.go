// Package cipher implements tag-bound authenticated encryption of byte strings.
//
// Wire format: nonce(12) || ciphertext || tag(16). The encryption tag is mixed
// into authentication only, so decrypting under the wrong tag (or none, when one
// was used) fails instead of returning corrupted plaintext.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

// Algorithm selects the AEAD construction.
type Algorithm string

const (
	AES256GCM        Algorithm = "aes-256-gcm"
	ChaCha20Poly1305 Algorithm = "chacha20-poly1305"
)

// Option 配置选项函数类型
type Option func(*options)

type options struct {
	algorithm Algorithm
	random    io.Reader
}

// WithAlgorithm picks the AEAD. Empty keeps the AES-256-GCM default.
func WithAlgorithm(a Algorithm) Option {
	return func(o *options) {
		if a != "" {
			o.algorithm = a
		}
	}
}

// WithRandom replaces the nonce source. Tests only.
func WithRandom(r io.Reader) Option {
	return func(o *options) {
		o.random = r
	}
}

// Engine encrypts and decrypts under one key. It is safe for concurrent use.
type Engine struct {
	aead   stdcipher.AEAD
	random io.Reader
}

// New builds an Engine over a 32-byte key. The key slice is not retained, so
// the caller may zero it once New returns.
func New(key []byte, opts ...Option) (*Engine, error) {
	o := options{algorithm: AES256GCM, random: rand.Reader}
	for _, opt := range opts {
		opt(&o)
	}

	if len(key) != KeySize {
		return nil, apperrors.New(code.ErrorInvalidKey, nil).WithDetails("want 32 bytes")
	}

	var (
		aead stdcipher.AEAD
		err  error
	)
	switch o.algorithm {
	case AES256GCM:
		var block stdcipher.Block
		block, err = aes.NewCipher(key)
		if err != nil {
			return nil, apperrors.New(code.ErrorInvalidKey, err)
		}
		aead, err = stdcipher.NewGCM(block)
	case ChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, apperrors.New(code.ErrorInvalidKey, nil).WithDetails("algorithm=" + string(o.algorithm))
	}
	if err != nil {
		return nil, apperrors.New(code.ErrorInvalidKey, err)
	}

	return &Engine{aead: aead, random: o.random}, nil
}

// Encrypt seals plaintext under tag with a fresh random nonce.
func (e *Engine) Encrypt(plaintext []byte, tag EncryptionTag) ([]byte, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(e.random, nonce); err != nil {
		return nil, err
	}
	return e.aead.Seal(nonce, nonce, plaintext, tag.AAD()), nil
}

// Decrypt opens a ciphertext produced by Encrypt under the same tag.
func (e *Engine) Decrypt(ciphertext []byte, tag EncryptionTag) ([]byte, error) {
	if len(ciphertext) < NonceSize+TagSize {
		return nil, apperrors.New(code.ErrorAuthenticationFailure, nil).WithDetails("ciphertext too short")
	}

	nonce, body := ciphertext[:NonceSize], ciphertext[NonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, body, tag.AAD())
	if err != nil {
		return nil, apperrors.New(code.ErrorAuthenticationFailure, nil).WithDetails("tag=" + tag.String())
	}
	return plaintext, nil
}

// EncryptString encrypts the UTF-8 bytes of s and returns standard Base64.
func (e *Engine) EncryptString(s string, tag EncryptionTag) (string, error) {
	out, err := e.Encrypt([]byte(s), tag)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptString reverses EncryptString.
func (e *Engine) DecryptString(s string, tag EncryptionTag) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", apperrors.New(code.ErrorInvalidCiphertext, err)
	}
	out, err := e.Decrypt(raw, tag)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
