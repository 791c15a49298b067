package local_fs

import (
	"context"
	"os"
	"path/filepath"

	"github.com/haierkeys/fast-pass-sync/pkg/fileurl"
)

func (p *LocalFS) Delete(ctx context.Context, fileKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dstFileKey := filepath.Join(p.getSavePath(), filepath.FromSlash(fileKey))
	if fileurl.IsExist(dstFileKey) {
		return os.Remove(dstFileKey)
	}
	return nil
}
