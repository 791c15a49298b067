//go:build !darwin

package masterkey

import (
	"runtime"

	"github.com/haierkeys/fast-pass-sync/pkg/cipher"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"
)

// NewKeychainSecretStore is only available on macOS.
func NewKeychainSecretStore(_ string, _ ...cipher.Option) (SecretStore, error) {
	return nil, apperrors.New(code.ErrorNotConfigured, nil).WithDetails("keychain unsupported on " + runtime.GOOS)
}
