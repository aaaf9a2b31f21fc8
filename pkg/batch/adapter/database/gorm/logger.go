package gorm

import (
	"fmt"
	"strings"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NewGormLogger maps the engine log level to a GORM logger writing through
// the engine logger. SQL statements are only traced at DEBUG.
func NewGormLogger(level logger.LogLevel) gormlogger.Interface {
	gormLevel := gormlogger.Silent
	switch level {
	case logger.LevelDebug:
		gormLevel = gormlogger.Info
	case logger.LevelInfo, logger.LevelWarn:
		gormLevel = gormlogger.Warn
	case logger.LevelError, logger.LevelFatal:
		gormLevel = gormlogger.Error
	}

	return gormlogger.New(
		NewGormWriter(),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// GormWriter redirects GORM output to the engine logger.
type GormWriter struct{}

func NewGormWriter() *GormWriter {
	return &GormWriter{}
}

// Printf implements gormlogger.Writer.
func (w *GormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	if isStatement(msg) {
		logger.Debugf("[GORM] %s", msg)
		return
	}
	logger.Warnf("[GORM] %s", msg)
}

func isStatement(msg string) bool {
	for _, verb := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.Contains(msg, verb) {
			return true
		}
	}
	return false
}
