// Package logging builds the service's zap loggers.
//
// Production loggers write JSON, development loggers write colored console
// lines. Both go to stderr by default so the eval subcommand can keep stdout
// for results.
//
// The level is atomic: SetLevel or the HTTP LevelHandler changes it for the
// root logger and every child derived from it.
//
//	logger := logging.NewDefault()
//	view := webview.New(cfg, logger.Component("webview"))
//	logger.Info("server starting", zap.String("addr", addr))
package logging
