/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the
extension host, tracking HTTP requests, the install pipeline, registry
state, hosting surfaces, catalog fetches and the event stream.

# Features

- HTTP request metrics (latency, throughput)
- Install pipeline metrics (attempts by result, duration, rejection reasons)
- Archive metrics (entries, decompressed bytes)
- Registry gauges (installed, enabled)
- Surface metrics (live contexts, shim injections, script runs)
- Catalog fetch metrics
- Event stream connection gauge

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Record custom metrics
	metrics.RecordInstall("success", elapsed)
	metrics.SetExtensionCounts(12, 9)

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
