package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogRateLimit records a rate-limit signal from the message source
func LogRateLimit(l Logger, channel string, wait time.Duration, attempt int) {
	l.WithFields(map[string]interface{}{
		"channel": channel,
		"wait":    wait,
		"attempt": attempt,
		"action":  "rate_limited",
	}).Warn("Rate limit reached, waiting before retry")
}

// LogStageStart logs when a pipeline stage starts
func LogStageStart(l Logger, stage string, fields map[string]interface{}) {
	entry := l.WithField("stage", stage)
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Info("Stage started")
}

// LogStageFinish logs the outcome of a pipeline stage
func LogStageFinish(l Logger, stage string, started time.Time, err error) {
	entry := l.WithFields(map[string]interface{}{
		"stage":    stage,
		"duration": time.Since(started),
	})
	if err != nil {
		entry.WithError(err).Error("Stage failed")
		return
	}
	entry.Info("Stage finished")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}

func (n *nopLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}
