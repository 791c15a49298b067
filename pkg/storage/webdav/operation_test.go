package webdav

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xwebdav "golang.org/x/net/webdav"
)

func newServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(&xwebdav.Handler{
		FileSystem: xwebdav.NewMemFS(),
		LockSystem: xwebdav.NewMemLS(),
	})
	t.Cleanup(srv.Close)
	return srv
}

func TestWebDAV_RoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)

	client, err := NewClient(&Config{Endpoint: srv.URL, CustomPath: "/pass/backup/"})
	require.NoError(t, err)

	keys, err := client.List(ctx, "fast-pass-")
	require.NoError(t, err)
	assert.Empty(t, keys)

	for _, k := range []string{"fast-pass-2.json", "fast-pass-1.json", "notes.txt"} {
		path, err := client.SendContent(ctx, k, []byte(`{}`), time.Now())
		require.NoError(t, err)
		assert.Equal(t, "/pass/backup/"+k, path)
	}

	keys, err = client.List(ctx, "fast-pass-")
	require.NoError(t, err)
	assert.Equal(t, []string{"fast-pass-1.json", "fast-pass-2.json"}, keys)

	require.NoError(t, client.Delete(ctx, "fast-pass-1.json"))
	keys, err = client.List(ctx, "fast-pass-")
	require.NoError(t, err)
	assert.Equal(t, []string{"fast-pass-2.json"}, keys)

	data, err := client.Client.Read("/pass/backup/fast-pass-2.json")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
}

func TestWebDAV_CanceledContext(t *testing.T) {
	client, err := NewClient(&Config{Endpoint: newServer(t).URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.SendContent(ctx, "x.json", nil, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
}
