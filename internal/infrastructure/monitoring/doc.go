/*
Package monitoring provides Prometheus metrics for the runtime.

# Overview

Metrics are registered on a private registry so several runtimes (and
tests) can coexist in one process. Every recording method is a no-op on a
nil *Metrics.

# Metrics

- HTTP API requests (count, latency)
- App supervisor: live processes, spawns, faults, protocol messages, drops
- App registry: installed apps, coalesced writes
- Clients and platforms: connected clients, client events, outbound sends
- Progress bus: events by status

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
