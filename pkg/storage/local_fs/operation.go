package local_fs

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/haierkeys/fast-pass-sync/pkg/fileurl"

	"github.com/pkg/errors"
)

// SendContent 写入文件并设置修改时间
func (p *LocalFS) SendContent(ctx context.Context, fileKey string, content []byte, modTime time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dstFileKey := filepath.Join(p.getSavePath(), filepath.FromSlash(fileKey))

	if err := fileurl.CreatePath(dstFileKey, 0o700); err != nil {
		return "", errors.Wrap(err, "local_fs")
	}
	// 先写临时文件再改名，不留下半个文件
	tmp := dstFileKey + ".tmp"
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return "", errors.Wrap(err, "local_fs")
	}
	if err := os.Rename(tmp, dstFileKey); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrap(err, "local_fs")
	}
	if !modTime.IsZero() {
		if err := os.Chtimes(dstFileKey, modTime, modTime); err != nil {
			return "", errors.Wrap(err, "local_fs")
		}
	}
	return dstFileKey, nil
}

// List 列出以 prefix 开头的文件
func (p *LocalFS) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p.getSavePath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "local_fs")
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, ".tmp") || !strings.HasPrefix(name, prefix) {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys, nil
}
