package masterkey

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
)

// FileKeySlot keeps the wrapped master key in one 0600 file.
type FileKeySlot struct {
	path string
}

// NewFileKeySlot 创建文件密钥槽
func NewFileKeySlot(path string) *FileKeySlot {
	return &FileKeySlot{path: path}
}

// Path 返回密钥文件路径
func (s *FileKeySlot) Path() string {
	return s.path
}

// Load reads the wrapped key. ok is false when the file does not exist yet.
func (s *FileKeySlot) Load(_ context.Context) ([]byte, bool, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pkgerrors.Wrap(err, "read master key")
	}
	return b, true, nil
}

// StoreIfAbsent writes blob to a temp file and hard-links it into place, so
// readers see either nothing or the complete blob and two writers cannot both win.
func (s *FileKeySlot) StoreIfAbsent(_ context.Context, blob []byte) (bool, error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false, pkgerrors.Wrap(err, "create key dir")
	}

	tmp, err := os.CreateTemp(dir, ".masterkey-*")
	if err != nil {
		return false, pkgerrors.Wrap(err, "create temp key file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return false, pkgerrors.Wrap(err, "chmod temp key file")
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return false, pkgerrors.Wrap(err, "write temp key file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return false, pkgerrors.Wrap(err, "sync temp key file")
	}
	if err := tmp.Close(); err != nil {
		return false, pkgerrors.Wrap(err, "close temp key file")
	}

	if err := os.Link(tmpName, s.path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, pkgerrors.Wrap(err, "install master key")
	}
	return true, nil
}
