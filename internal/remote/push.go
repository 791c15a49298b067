package remote

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/haierkeys/fast-pass-sync/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"go.uber.org/zap"
)

// PushTypeEvents 有待拉取的事件
const PushTypeEvents = "events"

// PushListener 订阅远端推送，收到事件通知后回调 notify
// Reconnects with exponential backoff until the context is canceled.
type PushListener struct {
	addr       string
	header     http.Header
	notify     func(shareIDs []string)
	logger     *zap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// PushOption 推送选项
type PushOption func(*PushListener)

// WithBackoff 设置重连退避区间
func WithBackoff(minBackoff, maxBackoff time.Duration) PushOption {
	return func(l *PushListener) {
		l.minBackoff = minBackoff
		l.maxBackoff = maxBackoff
	}
}

// NewPushListener 创建推送监听
func (c *Client) NewPushListener(notify func(shareIDs []string), opts ...PushOption) *PushListener {
	addr := c.endpoint(c.cfg.PushPath, nil)
	switch {
	case strings.HasPrefix(addr, "https://"):
		addr = "wss://" + strings.TrimPrefix(addr, "https://")
	case strings.HasPrefix(addr, "http://"):
		addr = "ws://" + strings.TrimPrefix(addr, "http://")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.Token)

	l := &PushListener{
		addr:       addr,
		header:     header,
		notify:     notify,
		logger:     c.logger,
		minBackoff: time.Second,
		maxBackoff: time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run 阻塞运行直到 ctx 取消
func (l *PushListener) Run(ctx context.Context) error {
	backoff := l.minBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		connected, err := l.runOnce(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if connected {
			backoff = l.minBackoff
		}
		l.logger.Warn("push channel disconnected", zap.String(logger.FieldPath, l.addr),
			zap.Duration("retryIn", backoff), zap.Error(err))

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff = min(backoff*2, l.maxBackoff)
	}
}

func (l *PushListener) runOnce(ctx context.Context) (bool, error) {
	h := &pushHandler{listener: l}
	socket, _, err := gws.NewClient(h, &gws.ClientOption{
		Addr:          l.addr,
		RequestHeader: l.header,
	})
	if err != nil {
		return false, err
	}
	l.logger.Info("push channel connected", zap.String(logger.FieldPath, l.addr))

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			socket.WriteClose(1000, nil)
			_ = socket.NetConn().Close()
		case <-done:
		}
	}()
	socket.ReadLoop()
	close(done)
	return true, h.closeErr
}

type pushHandler struct {
	gws.BuiltinEventHandler
	listener *PushListener
	closeErr error
}

func (h *pushHandler) OnClose(_ *gws.Conn, err error) {
	h.closeErr = err
}

func (h *pushHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(payload)
}

func (h *pushHandler) OnMessage(_ *gws.Conn, message *gws.Message) {
	defer message.Close()

	var msg PushMessage
	if err := sonic.Unmarshal(message.Data.Bytes(), &msg); err != nil {
		h.listener.logger.Warn("push message decode failed", zap.Error(err))
		return
	}
	if msg.Type != PushTypeEvents || len(msg.ShareIDs) == 0 {
		return
	}
	// message 在回调返回后被回收，ShareIDs 已是独立副本
	h.listener.notify(msg.ShareIDs)
}
