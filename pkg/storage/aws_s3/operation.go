package aws_s3

import (
	"bytes"
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SendContent 上传内容，修改时间写入对象元数据
func (p *S3) SendContent(ctx context.Context, fileKey string, content []byte, modTime time.Time) (string, error) {
	key := p.objectKey(fileKey)

	input := &s3.PutObjectInput{
		Bucket:            aws.String(p.Config.BucketName),
		Key:               aws.String(key),
		Body:              bytes.NewReader(content),
		ContentType:       aws.String("application/json"),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}
	if !modTime.IsZero() {
		input.Metadata = map[string]string{"mtime": strconv.FormatInt(modTime.Unix(), 10)}
	}

	if _, err := p.S3Client.PutObject(ctx, input); err != nil {
		var noBucket *types.NoSuchBucket
		if errors.As(err, &noBucket) {
			p.logger.Warn("bucket does not exist", zap.String("bucket", p.Config.BucketName))
		}
		return "", errors.Wrap(err, "aws_s3")
	}
	return key, nil
}

// List 列出以 prefix 开头的对象
func (p *S3) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(p.S3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.Config.BucketName),
		Prefix: aws.String(p.objectKey(prefix)),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "aws_s3")
		}
		for _, obj := range page.Contents {
			keys = append(keys, p.relativeKey(aws.ToString(obj.Key)))
		}
	}
	sort.Strings(keys)
	return keys, nil
}
