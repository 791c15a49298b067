// Package dao 实现数据访问层
package dao

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/haierkeys/fast-pass-sync/internal/model"
	"github.com/haierkeys/fast-pass-sync/pkg/fileurl"
	"github.com/haierkeys/fast-pass-sync/pkg/writequeue"

	"github.com/glebarez/sqlite"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Type 数据库类型：sqlite / mysql / postgres
	Type         string `yaml:"type" default:"sqlite" validate:"oneof=sqlite mysql postgres"`
	Path         string `yaml:"path" default:"storage/database/pass.db"`
	UserName     string `yaml:"username"`
	Password     string `yaml:"password"`
	Host         string `yaml:"host"`
	Name         string `yaml:"name"`
	TablePrefix  string `yaml:"table-prefix" default:"pass_"`
	Charset      string `yaml:"charset" default:"utf8mb4"`
	ParseTime    bool   `yaml:"parse-time" default:"true"`
	SSLMode      string `yaml:"ssl-mode" default:"disable"`
	MaxIdleConns int    `yaml:"max-idle-conns" default:"10"`
	MaxOpenConns int    `yaml:"max-open-conns" default:"100"`
	// Debug 输出 SQL 日志
	Debug bool `yaml:"debug"`
}

// Dao 本地缓存访问对象
type Dao struct {
	db     *gorm.DB
	wq     *writequeue.Manager
	logger *zap.Logger
}

// New 创建 Dao 并迁移表结构
func New(db *gorm.DB, wq *writequeue.Manager, logger *zap.Logger) (*Dao, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := model.AutoMigrate(db); err != nil {
		return nil, pkgerrors.Wrap(err, "auto migrate")
	}
	return &Dao{db: db, wq: wq, logger: logger}, nil
}

// DB 返回底层连接
func (d *Dao) DB() *gorm.DB {
	return d.db
}

// write runs fn in one transaction on shareID's write queue.
func (d *Dao) write(ctx context.Context, shareID string, fn func(tx *gorm.DB) error) error {
	run := func() error {
		return d.db.WithContext(ctx).Transaction(fn)
	}
	if d.wq == nil {
		return run()
	}
	return d.wq.Execute(ctx, shareID, run)
}

// Close 关闭数据库连接
func (d *Dao) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewDBEngine 根据配置创建 gorm 连接
func NewDBEngine(c DatabaseConfig) (*gorm.DB, error) {
	dialector, err := useDialector(c)
	if err != nil {
		return nil, err
	}

	logMode := logger.Silent
	if c.Debug {
		logMode = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logMode),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   c.TablePrefix, // 表名前缀，`Item` 的表名应该是 `pass_item`
			SingularTable: true,          // 使用单数表名
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open database")
	}

	// 获取通用数据库对象 sql.DB ，然后使用其提供的功能
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if c.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(c.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(time.Minute * 10)

	return db, nil
}

func useDialector(c DatabaseConfig) (gorm.Dialector, error) {
	switch c.Type {
	case "mysql":
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=%s&parseTime=%t&loc=Local",
			c.UserName,
			c.Password,
			c.Host,
			c.Name,
			c.Charset,
			c.ParseTime,
		)), nil
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=%s",
			c.Host,
			c.UserName,
			c.Password,
			c.Name,
			c.SSLMode,
		)), nil
	case "sqlite", "":
		if c.Path != ":memory:" && !fileurl.IsExist(c.Path) {
			if err := fileurl.CreatePath(c.Path, os.ModePerm); err != nil {
				return nil, pkgerrors.Wrap(err, "create database dir")
			}
		}
		// 不同保险库可并发写入，需要 WAL 与 busy_timeout
		return sqlite.Open(c.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), nil
	}
	return nil, fmt.Errorf("unsupported database type %q", c.Type)
}
