// Package storage 备份归档的存储后端
package storage

import (
	"context"
	"strings"
	"time"

	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"
	"github.com/haierkeys/fast-pass-sync/pkg/storage/aliyun_oss"
	"github.com/haierkeys/fast-pass-sync/pkg/storage/aws_s3"
	"github.com/haierkeys/fast-pass-sync/pkg/storage/local_fs"
	"github.com/haierkeys/fast-pass-sync/pkg/storage/webdav"

	"go.uber.org/zap"
)

type Type = string

const (
	LOCAL  Type = "localfs"
	OSS    Type = "oss"
	S3     Type = "s3"
	R2     Type = "r2"
	MinIO  Type = "minio"
	WebDAV Type = "webdav"
)

var StorageTypeMap = map[Type]bool{
	LOCAL:  true,
	OSS:    true,
	S3:     true,
	R2:     true,
	MinIO:  true,
	WebDAV: true,
}

// Config 统一存储配置
type Config struct {
	Type Type `yaml:"type" default:"localfs"`

	CustomPath string `yaml:"custom-path"`

	// S3 / OSS / MinIO / R2
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	BucketName      string `yaml:"bucket-name"`
	AccessKeyID     string `yaml:"access-key-id"`
	AccessKeySecret string `yaml:"access-key-secret"`
	AccountID       string `yaml:"account-id"` // Cloudflare R2

	// WebDAV
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// Local FS
	SavePath string `yaml:"save-path" default:"storage/backup"`
}

// Storager 存储后端
// Keys are relative to the backend's custom path; List returns them sorted.
type Storager interface {
	SendContent(ctx context.Context, fileKey string, content []byte, modTime time.Time) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, fileKey string) error
}

// NewClient 按类型创建存储后端
func NewClient(config *Config, logger *zap.Logger) (Storager, error) {
	if config == nil {
		return nil, apperrors.New(code.ErrorInvalidStorageType, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(config.Type) {
	case LOCAL:
		return local_fs.NewClient(&local_fs.Config{
			SavePath:   config.SavePath,
			CustomPath: config.CustomPath,
		})
	case OSS:
		return aliyun_oss.NewClient(&aliyun_oss.Config{
			Endpoint:        config.Endpoint,
			BucketName:      config.BucketName,
			AccessKeyID:     config.AccessKeyID,
			AccessKeySecret: config.AccessKeySecret,
			CustomPath:      config.CustomPath,
		})
	case S3, MinIO, R2:
		return aws_s3.NewClient(s3Config(config), aws_s3.WithLogger(logger))
	case WebDAV:
		return webdav.NewClient(&webdav.Config{
			Endpoint:   config.Endpoint,
			User:       config.User,
			Password:   config.Password,
			CustomPath: config.CustomPath,
		})
	}
	return nil, apperrors.New(code.ErrorInvalidStorageType, nil).WithDetails("type=" + config.Type)
}

// s3Config MinIO 与 R2 走 S3 协议，只是 endpoint 不同
func s3Config(config *Config) *aws_s3.Config {
	cfg := &aws_s3.Config{
		Endpoint:        config.Endpoint,
		Region:          config.Region,
		BucketName:      config.BucketName,
		AccessKeyID:     config.AccessKeyID,
		AccessKeySecret: config.AccessKeySecret,
		CustomPath:      config.CustomPath,
	}
	switch strings.ToLower(config.Type) {
	case MinIO:
		cfg.UsePathStyle = true
	case R2:
		if cfg.Endpoint == "" {
			cfg.Endpoint = "https://" + config.AccountID + ".r2.cloudflarestorage.com"
		}
		if cfg.Region == "" {
			cfg.Region = "auto"
		}
	}
	return cfg
}
