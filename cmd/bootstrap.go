package cmd

import (
	"context"
	"fmt"
	"os"

	internalApp "github.com/haierkeys/fast-pass-sync/internal/app"
	"github.com/haierkeys/fast-pass-sync/internal/dao"
	"github.com/haierkeys/fast-pass-sync/pkg/fileurl"
	"github.com/haierkeys/fast-pass-sync/pkg/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// bootstrapLogger 启动阶段日志器
// Used before the configured logger exists.
var bootstrapLogger *zap.Logger

func init() {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// 根据 DEBUG 环境变量设置日志级别
	level := zapcore.InfoLevel
	if os.Getenv("DEBUG") != "" {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), level)
	bootstrapLogger = zap.New(core, zap.AddCaller())
}

// configCandidates 未指定 -c 时依次查找
var configCandidates = []string{"config/config-dev.yaml", "config.yaml", "config/config.yaml"}

// resolveConfigPath 切换工作目录并定位配置文件，找不到时写出默认配置
func resolveConfigPath(f *rootFlags) (string, error) {
	if f.dir != "" {
		if err := os.Chdir(f.dir); err != nil {
			return "", fmt.Errorf("change working directory: %w", err)
		}
		bootstrapLogger.Debug("working directory changed", zap.String("dir", f.dir))
	}
	if f.config != "" {
		return f.config, nil
	}
	for _, p := range configCandidates {
		if fileurl.IsExist(p) {
			return p, nil
		}
	}

	p := configCandidates[len(configCandidates)-1]
	bootstrapLogger.Warn("config file not found, creating default config", zap.String("path", p))
	if err := fileurl.CreatePath(p, 0700); err != nil {
		return "", fmt.Errorf("config file auto create: %w", err)
	}
	if err := os.WriteFile(p, []byte(configDefault), 0600); err != nil {
		return "", fmt.Errorf("config file auto create: %w", err)
	}
	return p, nil
}

// session 一次命令执行期间的应用实例
type session struct {
	config     *internalApp.AppConfig
	configPath string
	logger     *zap.Logger
	app        *internalApp.App
}

// openSession 加载配置、日志、数据库与应用容器
func openSession(f *rootFlags) (*session, error) {
	path, err := resolveConfigPath(f)
	if err != nil {
		return nil, err
	}

	cfg, realpath, err := internalApp.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	lg, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		Production: cfg.Log.Production,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	db, err := dao.NewDBEngine(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	a, err := internalApp.NewApp(cfg, lg, db)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, fmt.Errorf("failed to create app container: %w", err)
	}

	lg.Debug("config loaded", zap.String("path", realpath))
	return &session{config: cfg, configPath: realpath, logger: lg, app: a}, nil
}

// close 优雅关闭应用容器
func (s *session) close(ctx context.Context) error {
	err := s.app.Shutdown(ctx)
	_ = s.logger.Sync()
	return err
}

// closeWithTimeout 按配置的超时关闭
func (s *session) closeWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.GetShutdownTimeout())
	defer cancel()
	return s.close(ctx)
}
