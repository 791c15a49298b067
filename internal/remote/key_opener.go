package remote

import (
	"context"
	"strconv"

	"github.com/haierkeys/fast-pass-sync/internal/domain"
	"github.com/haierkeys/fast-pass-sync/pkg/cipher"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"
)

// AccountKeyOpener 用账户密钥打开远端下发的保险库密钥
type AccountKeyOpener struct {
	engine *cipher.Engine
}

// NewAccountKeyOpener accountKey 为 Base64 编码的 32 字节账户密钥
func NewAccountKeyOpener(accountKey string, opts ...cipher.Option) (*AccountKeyOpener, error) {
	if accountKey == "" {
		return nil, apperrors.New(code.ErrorNotConfigured, nil).WithDetails("account-key")
	}
	raw, err := Decode(accountKey)
	if err != nil {
		return nil, apperrors.New(code.ErrorInvalidKey, err).WithDetails("account-key")
	}
	defer cipher.Zero(raw)

	engine, err := cipher.New(raw, opts...)
	if err != nil {
		return nil, err
	}
	return &AccountKeyOpener{engine: engine}, nil
}

// OpenShareKey 返回原始密钥，调用方负责清零
func (o *AccountKeyOpener) OpenShareKey(_ context.Context, key *domain.RemoteShareKey) ([]byte, error) {
	sealed, err := Decode(key.Key)
	if err != nil {
		return nil, err
	}
	raw, err := o.engine.Decrypt(sealed, cipher.TagShareKey)
	if err != nil {
		if ae := apperrors.GetAppError(err); ae != nil {
			ae.WithDetails("share="+key.ShareID, "rotation="+strconv.FormatInt(key.Rotation, 10))
		}
		return nil, err
	}
	return raw, nil
}
