//go:build darwin

package masterkey

import (
	"context"
	"sync"

	"github.com/haierkeys/fast-pass-sync/pkg/cipher"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"

	"github.com/keybase/go-keychain"
)

const keychainAccount = "master-key-wrap"

// KeychainSecretStore wraps the master key under a random key kept in the
// macOS keychain, device-local and readable only while the device is unlocked.
type KeychainSecretStore struct {
	service    string
	cipherOpts []cipher.Option
	mu         sync.Mutex
}

// NewKeychainSecretStore 创建钥匙串密钥存储
func NewKeychainSecretStore(service string, opts ...cipher.Option) (SecretStore, error) {
	return &KeychainSecretStore{service: service, cipherOpts: opts}, nil
}

// wrapKey 读取包装密钥，create 为 true 且不存在时生成
func (s *KeychainSecretStore) wrapKey(create bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := keychain.GetGenericPassword(s.service, keychainAccount, "", "")
	if err != nil {
		return nil, apperrors.New(code.ErrorMasterKeyUnavailable, err).WithDetails("keychain read")
	}
	if len(data) == cipher.KeySize {
		return data, nil
	}
	if !create {
		return nil, apperrors.New(code.ErrorMasterKeyUnavailable, nil).WithDetails("keychain item missing")
	}

	key, err := cipher.GenerateKey()
	if err != nil {
		return nil, apperrors.New(code.ErrorMasterKeyUnavailable, err)
	}
	item := keychain.NewGenericPassword(s.service, keychainAccount, "fast-pass-sync", key, "")
	item.SetSynchronizable(keychain.SynchronizableNo)
	item.SetAccessible(keychain.AccessibleWhenUnlockedThisDeviceOnly)
	if err := keychain.AddItem(item); err != nil {
		cipher.Zero(key)
		if err == keychain.ErrorDuplicateItem {
			// 并发进程先写入了
			return s.readExisting()
		}
		return nil, apperrors.New(code.ErrorMasterKeyUnavailable, err).WithDetails("keychain write")
	}
	return key, nil
}

func (s *KeychainSecretStore) readExisting() ([]byte, error) {
	data, err := keychain.GetGenericPassword(s.service, keychainAccount, "", "")
	if err != nil || len(data) != cipher.KeySize {
		return nil, apperrors.New(code.ErrorMasterKeyUnavailable, err).WithDetails("keychain read")
	}
	return data, nil
}

func (s *KeychainSecretStore) engine(create bool) (*cipher.Engine, error) {
	key, err := s.wrapKey(create)
	if err != nil {
		return nil, err
	}
	defer cipher.Zero(key)
	return cipher.New(key, s.cipherOpts...)
}

// Wrap seals raw under the keychain key, creating it on first use.
func (s *KeychainSecretStore) Wrap(_ context.Context, raw []byte) ([]byte, error) {
	e, err := s.engine(true)
	if err != nil {
		return nil, err
	}
	return e.Encrypt(raw, cipher.TagMasterKey)
}

// Unwrap opens a blob produced by Wrap.
func (s *KeychainSecretStore) Unwrap(_ context.Context, wrapped []byte) ([]byte, error) {
	e, err := s.engine(false)
	if err != nil {
		return nil, err
	}
	raw, err := e.Decrypt(wrapped, cipher.TagMasterKey)
	if err != nil {
		return nil, apperrors.New(code.ErrorMasterKeyUnavailable, err).WithDetails("keychain key mismatch")
	}
	return raw, nil
}
