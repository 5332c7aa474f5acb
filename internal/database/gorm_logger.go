package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger 将 gorm 日志输出到 zap
type GormLogger struct {
	logger        *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger 默认只输出 Warn 以上；slowThreshold 为 0 时不记录慢查询
func NewGormLogger(logger *zap.Logger, slowThreshold time.Duration) *GormLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormLogger{
		logger:        logger.With(zap.String("component", "gorm")),
		level:         gormlogger.Warn,
		slowThreshold: slowThreshold,
	}
}

func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *GormLogger) Info(_ context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Info {
		g.logger.Info(fmt.Sprintf(msg, data...))
	}
}

func (g *GormLogger) Warn(_ context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Warn {
		g.logger.Warn(fmt.Sprintf(msg, data...))
	}
}

func (g *GormLogger) Error(_ context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Error {
		g.logger.Error(fmt.Sprintf(msg, data...))
	}
}

// Trace 记录 SQL 错误与慢查询；记录不存在不视为错误
func (g *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && g.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		g.logger.Error("sql failed",
			zap.Error(err),
			zap.Duration("elapsed", elapsed),
			zap.Int64("rows", rows),
			zap.String("sql", sql),
		)
	case g.slowThreshold > 0 && elapsed > g.slowThreshold && g.level >= gormlogger.Warn:
		sql, rows := fc()
		g.logger.Warn("slow sql",
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", g.slowThreshold),
			zap.Int64("rows", rows),
			zap.String("sql", sql),
		)
	case g.level >= gormlogger.Info:
		sql, rows := fc()
		g.logger.Debug("sql", zap.Duration("elapsed", elapsed), zap.Int64("rows", rows), zap.String("sql", sql))
	}
}
