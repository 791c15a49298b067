package webdav

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/studio-b12/gowebdav"
)

// SendContent 将内容上传到 WebDAV 服务器
// WebDAV has no portable way to set mtime, so modTime is not sent.
func (w *WebDAV) SendContent(ctx context.Context, fileKey string, content []byte, _ time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := w.Client.MkdirAll(w.dir(), 0o755); err != nil {
		return "", errors.Wrap(err, "webdav")
	}
	fileKey = w.dir() + fileKey
	if err := w.Client.Write(fileKey, content, 0o600); err != nil {
		return "", errors.Wrap(err, "webdav")
	}
	return fileKey, nil
}

// List 列出目录下以 prefix 开头的文件
func (w *WebDAV) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files, err := w.Client.ReadDir(w.dir())
	if gowebdav.IsErrNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "webdav")
	}
	var keys []string
	for _, f := range files {
		if f.IsDir() || !strings.HasPrefix(f.Name(), prefix) {
			continue
		}
		keys = append(keys, f.Name())
	}
	sort.Strings(keys)
	return keys, nil
}
