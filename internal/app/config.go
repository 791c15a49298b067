// Package app 提供应用容器，封装所有依赖和服务
package app

import (
	"os"
	"path/filepath"
	"time"

	"github.com/haierkeys/fast-pass-sync/internal/dao"
	"github.com/haierkeys/fast-pass-sync/internal/remote"
	"github.com/haierkeys/fast-pass-sync/pkg/storage"
	"github.com/haierkeys/fast-pass-sync/pkg/util"
	"github.com/haierkeys/fast-pass-sync/pkg/workerpool"
	"github.com/haierkeys/fast-pass-sync/pkg/writequeue"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// 环境变量覆盖项，凭据不必写进配置文件
const (
	EnvBaseURL    = "FAST_PASS_BASE_URL"
	EnvToken      = "FAST_PASS_TOKEN"
	EnvAccountKey = "FAST_PASS_ACCOUNT_KEY"
)

// AppConfig 应用配置
// Boolean switches default to false: defaults are applied again after the
// YAML is read, which would undo an explicit false.
type AppConfig struct {
	File     string             `yaml:"-"` // 配置文件路径，不序列化
	Log      LogConfig          `yaml:"log"`
	Database dao.DatabaseConfig `yaml:"database"`
	Remote   remote.Config      `yaml:"remote"`
	Push     PushConfig         `yaml:"push"`
	Sync     SyncConfig         `yaml:"sync"`
	Crypto   CryptoConfig       `yaml:"crypto"`
	Backup   BackupConfig       `yaml:"backup"`
	App      AppSettings        `yaml:"app"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别，参见 zapcore.ParseLevel
	Level string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	// File 日志文件路径，为空时只输出到 stderr
	File string `yaml:"file" default:"storage/logs/pass.log"`
	// Production 是否启用 JSON 输出
	Production bool `yaml:"production" default:"false"`
}

// PushConfig 推送通道配置
type PushConfig struct {
	// Disabled 关闭推送，只依赖定时同步
	Disabled   bool   `yaml:"disabled"`
	MinBackoff string `yaml:"min-backoff" default:"1s"`
	MaxBackoff string `yaml:"max-backoff" default:"1m"`
}

// SyncConfig 同步配置
type SyncConfig struct {
	// Cron 定时同步表达式，支持 @every 15m
	Cron string `yaml:"cron" default:"@every 15m" validate:"omitempty,cron"`
	// SkipStartup 启动时不立即同步
	SkipStartup bool `yaml:"skip-startup"`
	// MaxParallelCalls 并发远端调用上限，0 为 CPU 核数
	MaxParallelCalls int `yaml:"max-parallel-calls" default:"0" validate:"min=0"`
	// MaxEventPages 单次增量同步最多拉取的事件页数
	MaxEventPages int `yaml:"max-event-pages" default:"100" validate:"min=1"`
}

// CryptoConfig 主密钥配置
type CryptoConfig struct {
	// AppID 设备密钥派生用的应用标识
	AppID string `yaml:"app-id" default:"fast-pass-sync" validate:"required"`
	// KeyFile 包装后主密钥的保存位置
	KeyFile string `yaml:"key-file" default:"storage/keys/master.key"`
	// Algorithm aes-256-gcm / chacha20-poly1305
	Algorithm string `yaml:"algorithm" default:"aes-256-gcm" validate:"oneof=aes-256-gcm chacha20-poly1305"`
	// Keychain 在 macOS 上用钥匙串代替设备标识派生的包装密钥
	Keychain bool `yaml:"keychain" default:"false"`
}

// BackupConfig 加密备份配置
type BackupConfig struct {
	Enabled bool   `yaml:"enabled" default:"false"`
	Cron    string `yaml:"cron" default:"0 3 * * *" validate:"omitempty,cron"`
	// Retain 保留的归档数量，负数为不清理
	Retain  int            `yaml:"retain" default:"7"`
	Storage storage.Config `yaml:"storage"`
}

// AppSettings 应用设置
type AppSettings struct {
	// Worker Pool 配置
	WorkerPoolMaxWorkers int `yaml:"worker-pool-max-workers" default:"4"`
	WorkerPoolQueueSize  int `yaml:"worker-pool-queue-size" default:"64"`

	// Write Queue 配置
	WriteQueueCapacity int    `yaml:"write-queue-capacity" default:"100"`
	WriteQueueTimeout  string `yaml:"write-queue-timeout" default:"30s"`
	WriteQueueIdleTime string `yaml:"write-queue-idle-time" default:"10m"`

	// ShutdownTimeout 优雅关闭超时
	ShutdownTimeout string `yaml:"shutdown-timeout" default:"30s"`
}

// LoadConfig 从文件加载配置
// 返回配置实例和配置文件的绝对路径
func LoadConfig(f string) (*AppConfig, string, error) {
	realpath, err := filepath.Abs(f)
	if err != nil {
		return nil, "", err
	}
	realpath = filepath.Clean(realpath)

	c := new(AppConfig)
	c.File = realpath

	// 设置默认值
	if err := defaults.Set(c); err != nil {
		return nil, realpath, errors.Wrap(err, "set default config failed")
	}

	file, err := os.ReadFile(realpath)
	if err != nil {
		return nil, realpath, errors.Wrap(err, "read config file failed")
	}

	err = yaml.Unmarshal(file, c)
	if err != nil {
		return nil, realpath, errors.Wrap(err, "parse config file failed")
	}

	// 再次设置默认值，以填充 YAML 中存在但值为空的字段
	// defaults.Set 只有在字段为该类型的零值时才会填充
	if err := defaults.Set(c); err != nil {
		return nil, realpath, errors.Wrap(err, "re-set default config failed")
	}

	if err := c.applyEnv(filepath.Join(filepath.Dir(realpath), ".env")); err != nil {
		return nil, realpath, err
	}
	c.resolvePaths(filepath.Dir(realpath))

	if err := c.Validate(); err != nil {
		return nil, realpath, err
	}
	return c, realpath, nil
}

// resolvePaths 相对路径以配置文件所在目录为基准
func (c *AppConfig) resolvePaths(base string) {
	for _, p := range []*string{&c.Log.File, &c.Crypto.KeyFile, &c.Backup.Storage.SavePath} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	if c.Database.Type == "sqlite" && c.Database.Path != ":memory:" && !filepath.IsAbs(c.Database.Path) {
		c.Database.Path = filepath.Join(base, c.Database.Path)
	}
}

// applyEnv 读取配置文件旁的 .env（可选），再用环境变量覆盖凭据
// Variables already set in the process environment win over the .env file.
func (c *AppConfig) applyEnv(envFile string) error {
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return errors.Wrap(err, "load env file failed")
		}
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Remote.Token = v
	}
	if v := os.Getenv(EnvAccountKey); v != "" {
		c.Remote.AccountKey = v
	}
	return nil
}

// Save 保存配置到文件
func (c *AppConfig) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config failed")
	}

	err = os.WriteFile(c.File, data, 0600)
	if err != nil {
		return errors.Wrap(err, "write config file failed")
	}

	return nil
}

// GetWorkerPoolConfig 获取 Worker Pool 配置
func (c *AppConfig) GetWorkerPoolConfig() workerpool.Config {
	cfg := workerpool.DefaultConfig()

	if c.App.WorkerPoolMaxWorkers > 0 {
		cfg.MaxWorkers = c.App.WorkerPoolMaxWorkers
	}
	if c.App.WorkerPoolQueueSize > 0 {
		cfg.QueueSize = c.App.WorkerPoolQueueSize
	}

	return cfg
}

// GetWriteQueueConfig 获取 Write Queue 配置
func (c *AppConfig) GetWriteQueueConfig() writequeue.Config {
	cfg := writequeue.DefaultConfig()

	if c.App.WriteQueueCapacity > 0 {
		cfg.QueueCapacity = c.App.WriteQueueCapacity
	}
	if c.App.WriteQueueTimeout != "" {
		if timeout, err := util.ParseDuration(c.App.WriteQueueTimeout); err == nil {
			cfg.WriteTimeout = timeout
		}
	}
	if c.App.WriteQueueIdleTime != "" {
		if idleTime, err := util.ParseDuration(c.App.WriteQueueIdleTime); err == nil {
			cfg.IdleTimeout = idleTime
		}
	}

	return cfg
}

// GetShutdownTimeout 获取优雅关闭超时
func (c *AppConfig) GetShutdownTimeout() time.Duration {
	if d, err := util.ParseDuration(c.App.ShutdownTimeout); err == nil && d > 0 {
		return d
	}
	return DefaultShutdownTimeout
}

// GetPushBackoff 获取推送重连退避区间
func (c *AppConfig) GetPushBackoff() (time.Duration, time.Duration) {
	minB, err := util.ParseDuration(c.Push.MinBackoff)
	if err != nil || minB <= 0 {
		minB = time.Second
	}
	maxB, err := util.ParseDuration(c.Push.MaxBackoff)
	if err != nil || maxB < minB {
		maxB = time.Minute
	}
	return minB, maxB
}
