// Package db 提供 GORM 初始化、连接池配置、事务助手与慢查询日志
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	pkgconfig "github.com/wyfcoding/assetexchange/pkg/config"
	"github.com/wyfcoding/assetexchange/pkg/contextx"
	"github.com/wyfcoding/assetexchange/pkg/logger"
)

// DB 数据库实例包装
type DB struct {
	*gorm.DB
}

// Init 初始化数据库连接
func Init(cfg pkgconfig.DatabaseConfig) (*DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gl := NewGormLogger(cfg.LogEnabled, time.Duration(cfg.SlowQueryThreshold)*time.Millisecond)

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: gl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if err := sqlDB.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info(context.Background(), "Database connected successfully", "driver", cfg.Driver)

	return &DB{DB: gdb}, nil
}

// Close 关闭数据库连接
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx 在事务中执行函数，事务对象通过 context 传递给仓储层。
// context 已携带事务时直接加入该事务，保证嵌套调用共享同一个原子单元；
// 否则开启新事务，fn 返回错误时自动回滚。
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return fn(ctx)
	}
	return d.DB.Transaction(func(tx *gorm.DB) error {
		return fn(contextx.WithTx(ctx, tx))
	})
}

// WithTxIsolation 在指定隔离级别的事务中执行函数
func (d *DB) WithTxIsolation(ctx context.Context, isolation sql.IsolationLevel, fn func(ctx context.Context) error) error {
	return d.DB.Transaction(func(tx *gorm.DB) error {
		return fn(contextx.WithTx(ctx, tx))
	}, &sql.TxOptions{Isolation: isolation})
}

// FromContext 返回 context 中的事务连接，不存在时返回缺省连接
func FromContext(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return fallback
}

// GormLogger GORM 日志记录器实现
type GormLogger struct {
	enabled            bool
	slowQueryThreshold time.Duration
}

// NewGormLogger 创建 GORM 日志记录器
func NewGormLogger(enabled bool, slowQueryThreshold time.Duration) *GormLogger {
	return &GormLogger{
		enabled:            enabled,
		slowQueryThreshold: slowQueryThreshold,
	}
}

// LogMode 设置日志模式
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return l
}

// Info 记录信息日志
func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.enabled {
		logger.Info(ctx, msg, "data", data)
	}
}

// Warn 记录警告日志
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	logger.Warn(ctx, msg, "data", data)
}

// Error 记录错误日志
func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	logger.Error(ctx, msg, "data", data)
}

// Trace 记录 SQL 执行日志
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if !l.enabled {
		return
	}

	elapsed := time.Since(begin)
	sqlStr, rows := fc()

	args := []interface{}{
		"duration", elapsed,
		"rows", rows,
		"sql", sqlStr,
	}

	if err != nil {
		args = append(args, "error", err)
		logger.Error(ctx, "SQL execution failed", args...)
	} else if elapsed > l.slowQueryThreshold {
		logger.Warn(ctx, "Slow query detected", args...)
	} else {
		logger.Debug(ctx, "SQL executed", args...)
	}
}
