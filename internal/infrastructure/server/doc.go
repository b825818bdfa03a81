// Package server provides HTTP server setup and initialization for overlayd.
//
// NewServer wires, in order:
//  1. Logger from configuration (production or development)
//  2. Metrics registry
//  3. Overlay host: loader, UI loop, surface, bridge, engine
//  4. Gin router with recovery, request ids, access logs, metrics, CORS
//     and optional per-client rate limiting
//  5. REST routes and the /stream WebSocket
//  6. Optional gzip for everything but the stream
//
// Example Usage:
//
//	cfg, err := config.Load("overlay.yaml")
//	srv, err := server.NewServer(cfg)
//	defer srv.Close()
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
