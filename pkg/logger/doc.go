// Package logger wraps zerolog behind a small structured logging interface.
//
// Components receive a Logger in their constructors. The CLI builds one from
// config.LoggingConfig with New, or installs it globally with Initialize.
//
//	log, err := logger.New(&cfg.Logging)
//	log.WithField("channel", "tikvahpharma").Info("Scrape started")
//
// A pipeline run id travels in the context and is attached with WithContext:
//
//	ctx = logger.ContextWithRunID(ctx, runID)
//	log.WithContext(ctx).Info("Run started")
//
// Tests use NewNopLogger, or NewTestLogger to assert on captured messages.
package logger
