package masterkey

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/haierkeys/fast-pass-sync/pkg/cipher"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedMachine(id string) DeviceOption {
	return WithMachineID(func(string) (string, error) { return id, nil })
}

func newTestProvider(t *testing.T, dir string) *Provider {
	t.Helper()
	store := NewDeviceSecretStore("fast-pass-sync-test", fixedMachine("machine-a"))
	return NewProvider(store, NewFileKeySlot(filepath.Join(dir, "master.key")))
}

func TestWithEncryptionContext_ZeroesKeyOnReturn(t *testing.T) {
	p := newTestProvider(t, t.TempDir())

	var captured []byte
	err := p.WithEncryptionContext(context.Background(), func(ec *EncryptionContext) error {
		captured = ec.key
		assert.False(t, cipher.IsZero(captured))
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, captured, cipher.KeySize)
	assert.True(t, cipher.IsZero(captured))
}

func TestWithEncryptionContext_ZeroesKeyOnError(t *testing.T) {
	p := newTestProvider(t, t.TempDir())
	boom := errors.New("boom")

	var captured []byte
	err := p.WithEncryptionContext(context.Background(), func(ec *EncryptionContext) error {
		captured = ec.key
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, cipher.IsZero(captured))
}

func TestWithEncryptionContext_ZeroesKeyOnPanic(t *testing.T) {
	p := newTestProvider(t, t.TempDir())

	var captured []byte
	assert.Panics(t, func() {
		_ = p.WithEncryptionContext(context.Background(), func(ec *EncryptionContext) error {
			captured = ec.key
			panic("abort")
		})
	})
	require.NotNil(t, captured)
	assert.True(t, cipher.IsZero(captured))
}

func TestEncryptionContext_UnusableAfterScope(t *testing.T) {
	p := newTestProvider(t, t.TempDir())

	var leaked *EncryptionContext
	require.NoError(t, p.WithEncryptionContext(context.Background(), func(ec *EncryptionContext) error {
		leaked = ec
		return nil
	}))

	_, err := leaked.Encrypt([]byte("x"), cipher.TagItemContent)
	assert.True(t, apperrors.Is(err, code.ErrorContextClosed))
	_, err = leaked.OpenKey([]byte("x"), cipher.TagShareKey)
	assert.True(t, apperrors.Is(err, code.ErrorContextClosed))
}

func TestProvider_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	var sealed []byte
	require.NoError(t, newTestProvider(t, dir).WithEncryptionContext(context.Background(), func(ec *EncryptionContext) error {
		var err error
		sealed, err = ec.Encrypt([]byte("hello"), cipher.TagItemContent)
		return err
	}))

	var opened []byte
	require.NoError(t, newTestProvider(t, dir).WithEncryptionContext(context.Background(), func(ec *EncryptionContext) error {
		var err error
		opened, err = ec.Decrypt(sealed, cipher.TagItemContent)
		return err
	}))
	assert.Equal(t, "hello", string(opened))
}

func TestProvider_KeyFileIsPrivate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, newTestProvider(t, dir).WithEncryptionContext(context.Background(), func(*EncryptionContext) error {
		return nil
	}))

	info, err := os.Stat(filepath.Join(dir, "master.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestProvider_OtherDeviceCannotUnwrap(t *testing.T) {
	dir := t.TempDir()
	slot := NewFileKeySlot(filepath.Join(dir, "master.key"))

	mine := NewProvider(NewDeviceSecretStore("app", fixedMachine("machine-a")), slot)
	require.NoError(t, mine.WithEncryptionContext(context.Background(), func(*EncryptionContext) error { return nil }))

	theirs := NewProvider(NewDeviceSecretStore("app", fixedMachine("machine-b")), slot)
	err := theirs.WithEncryptionContext(context.Background(), func(*EncryptionContext) error {
		t.Fatal("scope must not run")
		return nil
	})
	assert.True(t, apperrors.Is(err, code.ErrorMasterKeyUnavailable))
}

func TestProvider_ConcurrentFirstUseGeneratesOneKey(t *testing.T) {
	dir := t.TempDir()
	p := newTestProvider(t, dir)

	const n = 16
	sealed := make([][]byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = p.WithEncryptionContext(context.Background(), func(ec *EncryptionContext) error {
				var err error
				sealed[i], err = ec.Encrypt([]byte("v"), cipher.TagVaultContent)
				return err
			})
		}(i)
	}
	wg.Wait()

	// a second provider over the same file simulates another process
	other := newTestProvider(t, dir)
	require.NoError(t, other.WithEncryptionContext(context.Background(), func(ec *EncryptionContext) error {
		for i, ct := range sealed {
			require.NotNil(t, ct, "scope %d", i)
			pt, err := ec.Decrypt(ct, cipher.TagVaultContent)
			require.NoError(t, err)
			assert.Equal(t, "v", string(pt))
		}
		return nil
	}))
}

func TestEncryptionContext_WrapAndOpenKey(t *testing.T) {
	p := newTestProvider(t, t.TempDir())

	require.NoError(t, p.WithEncryptionContext(context.Background(), func(ec *EncryptionContext) error {
		shareKey, err := cipher.GenerateKey()
		require.NoError(t, err)

		wrapped, err := ec.WrapKey(shareKey, cipher.TagShareKey)
		require.NoError(t, err)

		direct, err := cipher.New(shareKey)
		require.NoError(t, err)
		ct, err := direct.Encrypt([]byte("item key"), cipher.TagItemKey)
		require.NoError(t, err)

		opened, err := ec.OpenKey(wrapped, cipher.TagShareKey)
		require.NoError(t, err)
		pt, err := opened.Decrypt(ct, cipher.TagItemKey)
		require.NoError(t, err)
		assert.Equal(t, "item key", string(pt))

		_, err = ec.OpenKey(wrapped, cipher.TagItemKey)
		assert.True(t, apperrors.Is(err, code.ErrorAuthenticationFailure))
		return nil
	}))
}

func TestWithEncryptionContext_CanceledContext(t *testing.T) {
	p := newTestProvider(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.WithEncryptionContext(ctx, func(*EncryptionContext) error {
		t.Fatal("scope must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileKeySlot_StoreIfAbsent(t *testing.T) {
	slot := NewFileKeySlot(filepath.Join(t.TempDir(), "nested", "master.key"))
	ctx := context.Background()

	_, ok, err := slot.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := slot.StoreIfAbsent(ctx, []byte("first"))
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = slot.StoreIfAbsent(ctx, []byte("second"))
	require.NoError(t, err)
	assert.False(t, stored)

	b, ok, err := slot.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "first", string(b))
}
