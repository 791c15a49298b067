package aliyun_oss

import (
	"bytes"
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/pkg/errors"
)

func (p *OSS) SendContent(ctx context.Context, fileKey string, content []byte, modTime time.Time) (string, error) {
	key := p.objectKey(fileKey)
	opts := []oss.Option{oss.WithContext(ctx), oss.ContentType("application/json")}
	if !modTime.IsZero() {
		opts = append(opts, oss.Meta("mtime", strconv.FormatInt(modTime.Unix(), 10)))
	}
	if err := p.Bucket.PutObject(key, bytes.NewReader(content), opts...); err != nil {
		return "", errors.Wrap(err, "aliyun_oss")
	}
	return key, nil
}

func (p *OSS) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	token := ""
	for {
		opts := []oss.Option{oss.WithContext(ctx), oss.Prefix(p.objectKey(prefix))}
		if token != "" {
			opts = append(opts, oss.ContinuationToken(token))
		}
		res, err := p.Bucket.ListObjectsV2(opts...)
		if err != nil {
			return nil, errors.Wrap(err, "aliyun_oss")
		}
		for _, obj := range res.Objects {
			keys = append(keys, p.relativeKey(obj.Key))
		}
		if !res.IsTruncated {
			break
		}
		token = res.NextContinuationToken
	}
	sort.Strings(keys)
	return keys, nil
}
