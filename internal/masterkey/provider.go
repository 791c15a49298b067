// Package masterkey owns the device-bound master key. The raw key exists only
// inside WithEncryptionContext and is zeroed on every exit path.
package masterkey

import (
	"context"
	"sync"

	"github.com/haierkeys/fast-pass-sync/pkg/cipher"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"

	"go.uber.org/zap"
)

// SecretStore wraps the master key at rest.
type SecretStore interface {
	Wrap(ctx context.Context, raw []byte) ([]byte, error)
	// Unwrap returns a fresh buffer owned by the caller.
	Unwrap(ctx context.Context, wrapped []byte) ([]byte, error)
}

// KeySlot is the single durable location of the wrapped master key.
type KeySlot interface {
	Load(ctx context.Context) (blob []byte, ok bool, err error)
	// StoreIfAbsent persists blob unless a blob already exists; stored reports which happened.
	StoreIfAbsent(ctx context.Context, blob []byte) (stored bool, err error)
}

// Provider hands out scoped access to the master key.
type Provider struct {
	store      SecretStore
	slot       KeySlot
	cipherOpts []cipher.Option
	logger     *zap.Logger

	// guards generation of a missing key
	genMu sync.Mutex
}

// Option 配置选项函数类型
type Option func(*Provider)

// WithLogger 设置日志器
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithCipherOptions sets the options used for every engine built from the master
// key and from keys unwrapped through it.
func WithCipherOptions(opts ...cipher.Option) Option {
	return func(p *Provider) {
		p.cipherOpts = opts
	}
}

// NewProvider 创建 Provider
func NewProvider(store SecretStore, slot KeySlot, opts ...Option) *Provider {
	p := &Provider{
		store:  store,
		slot:   slot,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithEncryptionContext resolves the master key, runs fn with a context bound to
// it, then zeroes the key whether fn returns, fails or panics. Every call gets
// its own copy of the key.
func (p *Provider) WithEncryptionContext(ctx context.Context, fn func(ec *EncryptionContext) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key, err := p.resolve(ctx)
	if err != nil {
		return err
	}

	ec := &EncryptionContext{key: key, opts: p.cipherOpts}
	defer ec.close()

	engine, err := cipher.New(key, p.cipherOpts...)
	if err != nil {
		return apperrors.New(code.ErrorMasterKeyUnavailable, err)
	}
	ec.engine = engine

	return fn(ec)
}

func (p *Provider) resolve(ctx context.Context) ([]byte, error) {
	if key, ok, err := p.load(ctx); err != nil || ok {
		return key, err
	}

	p.genMu.Lock()
	defer p.genMu.Unlock()

	// another scope may have generated it while we waited
	if key, ok, err := p.load(ctx); err != nil || ok {
		return key, err
	}

	raw, err := cipher.GenerateKey()
	if err != nil {
		return nil, apperrors.New(code.ErrorMasterKeyUnavailable, err)
	}
	defer cipher.Zero(raw)

	wrapped, err := p.store.Wrap(ctx, raw)
	if err != nil {
		return nil, apperrors.New(code.ErrorMasterKeyUnavailable, err)
	}

	stored, err := p.slot.StoreIfAbsent(ctx, wrapped)
	if err != nil {
		return nil, apperrors.New(code.ErrorMasterKeyUnavailable, err)
	}
	if !stored {
		p.logger.Info("master key created by another writer, using it")
		key, ok, err := p.load(ctx)
		if err == nil && !ok {
			err = apperrors.New(code.ErrorMasterKeyUnavailable, nil).WithDetails("slot empty after concurrent create")
		}
		return key, err
	}

	p.logger.Info("master key generated")
	return p.store.Unwrap(ctx, wrapped)
}

func (p *Provider) load(ctx context.Context) ([]byte, bool, error) {
	blob, ok, err := p.slot.Load(ctx)
	if err != nil {
		return nil, false, apperrors.New(code.ErrorMasterKeyUnavailable, err)
	}
	if !ok {
		return nil, false, nil
	}
	key, err := p.store.Unwrap(ctx, blob)
	if err != nil {
		return nil, false, apperrors.New(code.ErrorMasterKeyUnavailable, err)
	}
	return key, true, nil
}
