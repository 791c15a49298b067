package aliyun_oss

import (
	"context"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/pkg/errors"
)

func (p *OSS) Delete(ctx context.Context, fileKey string) error {
	return errors.Wrap(p.Bucket.DeleteObject(p.objectKey(fileKey), oss.WithContext(ctx)), "aliyun_oss")
}
