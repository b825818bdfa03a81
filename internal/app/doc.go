// Package app assembles the overlay runtime.
//
// A Host owns one of each moving part and wires them in order:
//   - Loop: the UI goroutine every page touch runs on
//   - Loader: fetches remote pages and local assets
//   - View: the embedded web surface
//   - Session and Pages: the script bridge and page lifecycle
//   - Engine: the overlay facade used by the API
//
// Example Usage:
//
//	host, err := app.New(cfg, logger, metrics)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer host.Close()
//	if err := host.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	result, err := host.Engine.Eval(ctx, "document.title")
package app
