package aliyun_oss

import (
	"strings"

	"github.com/haierkeys/fast-pass-sync/pkg/fileurl"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/pkg/errors"
)

type Config struct {
	Endpoint        string `yaml:"endpoint"`
	BucketName      string `yaml:"bucket-name"`
	AccessKeyID     string `yaml:"access-key-id"`
	AccessKeySecret string `yaml:"access-key-secret"`
	CustomPath      string `yaml:"custom-path"`
}

type OSS struct {
	Client *oss.Client
	Bucket *oss.Bucket
	Config *Config
}

func NewClient(conf *Config) (*OSS, error) {
	client, err := oss.New(conf.Endpoint, conf.AccessKeyID, conf.AccessKeySecret)
	if err != nil {
		return nil, errors.Wrap(err, "aliyun_oss")
	}
	p := &OSS{Client: client, Config: conf}
	if err := p.GetBucket(""); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *OSS) GetBucket(bucketName string) error {
	if len(bucketName) <= 0 {
		bucketName = p.Config.BucketName
	}
	var err error
	p.Bucket, err = p.Client.Bucket(bucketName)
	return errors.Wrap(err, "aliyun_oss")
}

func (p *OSS) objectKey(fileKey string) string {
	if p.Config.CustomPath == "" {
		return fileKey
	}
	return fileurl.PathSuffixCheckAdd(p.Config.CustomPath, "/") + fileKey
}

func (p *OSS) relativeKey(key string) string {
	if p.Config.CustomPath == "" {
		return key
	}
	return strings.TrimPrefix(key, fileurl.PathSuffixCheckAdd(p.Config.CustomPath, "/"))
}
