/*
Package monitoring provides Prometheus metrics for the overlay service.

# Overview

Each Metrics value owns a private registry, so tests and embedded uses can
create as many as they like. It tracks HTTP traffic, bridge evaluations,
page loads, outbound service calls and WebSocket streams.

# Usage

	metrics := monitoring.NewMetrics()

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Time operations
	timer := monitoring.NewTimer(metrics, "loader", "fetch")
	// ... perform operation ...
	timer.Stop("success")

All Record* methods are safe to call on a nil *Metrics.
*/
package monitoring
