package local_fs

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"
)

func TestLocalFS_SendContent(t *testing.T) {
	tempDir := t.TempDir()

	client, err := NewClient(&Config{SavePath: tempDir, CustomPath: "vault"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	content := []byte(`{"items":[]}`)
	modTime := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	savedPath, err := client.SendContent(context.Background(), "backup-1.json", content, modTime)
	if err != nil {
		t.Fatalf("SendContent failed: %v", err)
	}

	savedContent, err := os.ReadFile(savedPath)
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}
	if !bytes.Equal(savedContent, content) {
		t.Errorf("Content mismatch: expected %s, got %s", content, savedContent)
	}

	fileInfo, err := os.Stat(savedPath)
	if err != nil {
		t.Fatalf("Failed to stat saved file: %v", err)
	}
	// 不同文件系统的时间精度不同
	if d := fileInfo.ModTime().Sub(modTime); d < -time.Second || d > time.Second {
		t.Errorf("ModTime mismatch: expected %v, got %v", modTime, fileInfo.ModTime())
	}
	if fileInfo.Mode().Perm()&0o077 != 0 {
		t.Errorf("backup readable by others: %v", fileInfo.Mode())
	}
}

func TestLocalFS_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	client, _ := NewClient(&Config{SavePath: t.TempDir()})

	keys, err := client.List(ctx, "backup-")
	if err != nil || len(keys) != 0 {
		t.Fatalf("empty dir: keys=%v err=%v", keys, err)
	}

	for _, k := range []string{"backup-2.json", "other.json", "backup-1.json"} {
		if _, err := client.SendContent(ctx, k, []byte("x"), time.Time{}); err != nil {
			t.Fatalf("SendContent %s: %v", k, err)
		}
	}

	keys, err = client.List(ctx, "backup-")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 || keys[0] != "backup-1.json" || keys[1] != "backup-2.json" {
		t.Fatalf("unexpected keys: %v", keys)
	}

	if err := client.Delete(ctx, "backup-1.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := client.Delete(ctx, "backup-1.json"); err != nil {
		t.Fatalf("Delete of a missing key should be a no-op: %v", err)
	}
	keys, _ = client.List(ctx, "backup-")
	if len(keys) != 1 || keys[0] != "backup-2.json" {
		t.Fatalf("unexpected keys after delete: %v", keys)
	}
}
