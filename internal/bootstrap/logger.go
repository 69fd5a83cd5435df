package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/facebookincubator/go-belt/tool/logger"
	xlogrus "github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/sirupsen/logrus"
)

// ParseLevel accepts go-belt level names ("debug", "warning", ...).
func ParseLevel(s string) (logger.Level, error) {
	var level logger.Level
	_ = level.Set(strings.TrimSpace(s))
	if level == logger.LevelUndefined {
		return logger.LevelUndefined, fmt.Errorf("unexpected logger level '%s'", s)
	}
	return level, nil
}

// NewLogger builds the logrus-backed logger used by both hosts.
func NewLogger(level logger.Level) logger.Logger {
	ll := xlogrus.DefaultLogrusLogger()
	if formatter, ok := ll.Formatter.(*logrus.TextFormatter); ok {
		formatter.FullTimestamp = true
	}
	return xlogrus.New(ll).WithLevel(level)
}

// WithLogger attaches a logger for the named level to ctx, falling back to warnings.
func WithLogger(ctx context.Context, levelName string) context.Context {
	level, err := ParseLevel(levelName)
	if err != nil {
		level = logger.LevelWarning
	}
	ctx = logger.CtxWithLogger(ctx, NewLogger(level))
	if err != nil {
		logger.Warnf(ctx, "%v; using %s", err, level)
	}
	return ctx
}
