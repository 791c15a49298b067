package storage

import (
	"testing"

	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"
	"github.com/haierkeys/fast-pass-sync/pkg/storage/aws_s3"
	"github.com/haierkeys/fast-pass-sync/pkg/storage/local_fs"
)

func TestNewClient_Local(t *testing.T) {
	cfg := &Config{
		Type:     LOCAL,
		SavePath: t.TempDir(),
	}

	client, err := NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create local client: %v", err)
	}
	if _, ok := client.(*local_fs.LocalFS); !ok {
		t.Fatal("Client is not *local_fs.LocalFS")
	}
}

func TestNewClient_Invalid(t *testing.T) {
	_, err := NewClient(&Config{Type: "invalid"}, nil)
	if !apperrors.Is(err, code.ErrorInvalidStorageType) {
		t.Fatalf("expected ErrorInvalidStorageType, got %v", err)
	}
	_, err = NewClient(nil, nil)
	if !apperrors.Is(err, code.ErrorInvalidStorageType) {
		t.Fatalf("expected ErrorInvalidStorageType for nil config, got %v", err)
	}
}

func TestNewClient_S3Family(t *testing.T) {
	client, err := NewClient(&Config{Type: MinIO, Endpoint: "http://127.0.0.1:9000", Region: "us-east-1", BucketName: "b"}, nil)
	if err != nil {
		t.Fatalf("minio: %v", err)
	}
	s, ok := client.(*aws_s3.S3)
	if !ok || !s.Config.UsePathStyle {
		t.Fatal("minio must use path-style S3")
	}

	r2 := s3Config(&Config{Type: R2, AccountID: "acc"})
	if r2.Endpoint != "https://acc.r2.cloudflarestorage.com" || r2.Region != "auto" {
		t.Fatalf("unexpected r2 config: %+v", r2)
	}
}
