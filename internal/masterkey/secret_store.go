package masterkey

import (
	"context"
	"crypto/sha256"
	"io"

	"github.com/haierkeys/fast-pass-sync/pkg/cipher"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"
	"github.com/haierkeys/fast-pass-sync/pkg/util"

	"golang.org/x/crypto/hkdf"
)

const wrapInfo = "fast-pass-sync master key wrap v1"

// DeviceSecretStore wraps the master key under a key derived from this
// machine's identity, so a copied key file is useless on another device.
type DeviceSecretStore struct {
	appID      string
	machineID  func(appID string) (string, error)
	cipherOpts []cipher.Option
}

// DeviceOption configures a DeviceSecretStore.
type DeviceOption func(*DeviceSecretStore)

// WithMachineID replaces the machine identity source.
func WithMachineID(fn func(appID string) (string, error)) DeviceOption {
	return func(s *DeviceSecretStore) {
		s.machineID = fn
	}
}

// WithWrapCipher sets the AEAD used for the wrapping key.
func WithWrapCipher(opts ...cipher.Option) DeviceOption {
	return func(s *DeviceSecretStore) {
		s.cipherOpts = opts
	}
}

// NewDeviceSecretStore 创建设备绑定的密钥存储
func NewDeviceSecretStore(appID string, opts ...DeviceOption) *DeviceSecretStore {
	s := &DeviceSecretStore{
		appID:     appID,
		machineID: util.ProtectedMachineID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DeviceSecretStore) engine() (*cipher.Engine, error) {
	id, err := s.machineID(s.appID)
	if err != nil {
		return nil, apperrors.New(code.ErrorMasterKeyUnavailable, err)
	}

	wrapKey := make([]byte, cipher.KeySize)
	defer cipher.Zero(wrapKey)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(id), []byte(s.appID), []byte(wrapInfo)), wrapKey); err != nil {
		return nil, apperrors.New(code.ErrorMasterKeyUnavailable, err)
	}
	return cipher.New(wrapKey, s.cipherOpts...)
}

// Wrap seals raw under the device key.
func (s *DeviceSecretStore) Wrap(_ context.Context, raw []byte) ([]byte, error) {
	e, err := s.engine()
	if err != nil {
		return nil, err
	}
	return e.Encrypt(raw, cipher.TagMasterKey)
}

// Unwrap opens a blob produced by Wrap on this device.
func (s *DeviceSecretStore) Unwrap(_ context.Context, wrapped []byte) ([]byte, error) {
	e, err := s.engine()
	if err != nil {
		return nil, err
	}
	raw, err := e.Decrypt(wrapped, cipher.TagMasterKey)
	if err != nil {
		return nil, apperrors.New(code.ErrorMasterKeyUnavailable, err).WithDetails("device key mismatch")
	}
	return raw, nil
}
