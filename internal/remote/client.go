// Package remote 远端密码库 API 客户端
package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"
	"github.com/haierkeys/fast-pass-sync/pkg/logger"
	"github.com/haierkeys/fast-pass-sync/pkg/util"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/juju/ratelimit"
	"go.uber.org/zap"
)

// maxBodySize 单次响应体上限
const maxBodySize = 32 << 20

// Config 远端配置
type Config struct {
	// BaseURL 服务地址，例如 https://pass.example.com
	BaseURL string `yaml:"base-url" validate:"required,url"`
	// Token 访问令牌
	Token string `yaml:"token"`
	// AccountKey 账户密钥（Base64），用于打开远端下发的保险库密钥
	AccountKey string `yaml:"account-key" validate:"omitempty,base64"`
	// PageSize 分页大小
	PageSize int `yaml:"page-size" default:"100" validate:"min=1,max=1000"`
	// Timeout 单次请求超时，支持 30s / 1m
	Timeout string `yaml:"timeout" default:"30s"`
	// RateLimit 每秒请求数
	RateLimit float64 `yaml:"rate-limit" default:"10"`
	// Burst 令牌桶容量
	Burst int64 `yaml:"burst" default:"20"`
	// PushPath 推送通道路径
	PushPath string `yaml:"push-path" default:"/pass/v1/push"`
}

// Client 远端 API 客户端
type Client struct {
	cfg     Config
	baseURL *url.URL
	http    *http.Client
	bucket  *ratelimit.Bucket
	logger  *zap.Logger
}

// ClientOption 客户端选项
type ClientOption func(*Client)

// WithHTTPClient 替换底层 http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient 创建远端客户端
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, apperrors.New(code.ErrorNotConfigured, nil)
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, apperrors.New(code.ErrorNotConfigured, err).WithDetails("base-url=" + cfg.BaseURL)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	timeout := 30 * time.Second
	if cfg.Timeout != "" {
		if timeout, err = util.ParseDuration(cfg.Timeout); err != nil {
			return nil, apperrors.New(code.ErrorNotConfigured, err).WithDetails("timeout=" + cfg.Timeout)
		}
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}

	c := &Client{
		cfg:     cfg,
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		bucket:  ratelimit.NewBucketWithRate(cfg.RateLimit, cfg.Burst),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PageSize 分页大小
func (c *Client) PageSize() int {
	return c.cfg.PageSize
}

// checkToken 令牌为 JWT 时提前拒绝已过期的令牌，非 JWT 令牌交给服务端判断
func (c *Client) checkToken() error {
	if c.cfg.Token == "" {
		return apperrors.New(code.ErrorNotConfigured, nil).WithDetails("token")
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.cfg.Token, claims); err != nil {
		return nil
	}
	if exp, _ := claims.GetExpirationTime(); exp != nil && exp.Before(time.Now()) {
		return apperrors.New(code.ErrorTokenExpired, nil)
	}
	return nil
}

// wait 按令牌桶限速
func (c *Client) wait(ctx context.Context) error {
	d := c.bucket.Take(1)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// call 发起请求并解出 Res.Data
func call[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if err := c.checkToken(); err != nil {
		return zero, err
	}
	if err := c.wait(ctx); err != nil {
		return zero, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := sonic.Marshal(body)
		if err != nil {
			return zero, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return zero, apperrors.New(code.ErrorNetworkFailure, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		return zero, apperrors.New(code.ErrorNetworkFailure, err).WithDetails(method + " " + path)
	}
	defer resp.Body.Close()

	c.logger.Debug("remote call",
		zap.String(logger.FieldTraceID, requestID),
		zap.String(logger.FieldMethod, method),
		zap.String(logger.FieldPath, path),
		zap.Int(logger.FieldStatus, resp.StatusCode),
		zap.Duration(logger.FieldDuration, time.Since(start)))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return zero, apperrors.New(code.ErrorNetworkFailure, err).WithDetails(method + " " + path)
	}

	if err := statusError(resp.StatusCode, raw, method+" "+path); err != nil {
		return zero, err
	}

	var res Res[T]
	if err := sonic.Unmarshal(raw, &res); err != nil {
		return zero, apperrors.New(code.ErrorInvalidResponse, err).WithDetails(method + " " + path)
	}
	if !res.Status {
		return zero, apperrors.New(code.ErrorRemoteRejected, errors.New(res.Message)).
			WithDetails(method+" "+path, "code="+strconv.Itoa(res.Code))
	}
	return res.Data, nil
}

// statusError HTTP 状态码映射为错误码
func statusError(status int, raw []byte, where string) error {
	switch {
	case status < 300:
		return nil
	case status == http.StatusConflict:
		return apperrors.New(code.ErrorRevisionConflict, nil).WithDetails(where)
	case status == http.StatusUnauthorized:
		return apperrors.New(code.ErrorTokenExpired, nil).WithDetails(where)
	case status >= 500, status == http.StatusTooManyRequests:
		return apperrors.New(code.ErrorNetworkFailure, errors.New(http.StatusText(status))).
			WithDetails(where, "status="+strconv.Itoa(status))
	default:
		var res Res[struct{}]
		msg := http.StatusText(status)
		if sonic.Unmarshal(raw, &res) == nil && res.Message != "" {
			msg = res.Message
		}
		return apperrors.New(code.ErrorRemoteRejected, errors.New(msg)).
			WithDetails(where, "status="+strconv.Itoa(status))
	}
}
