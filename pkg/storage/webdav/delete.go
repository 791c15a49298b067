package webdav

import (
	"context"

	"github.com/pkg/errors"
)

func (w *WebDAV) Delete(ctx context.Context, fileKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Wrap(w.Client.Remove(w.dir()+fileKey), "webdav")
}
