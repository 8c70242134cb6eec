// Package server assembles the extension host.
//
// NewServer builds the full component graph from configuration: the
// filesystem layout under the data directory, the registry store and
// manager, the archive extractor and manifest parser, web storage,
// surfaces, the snippet catalog, and the gin router with its
// middleware stack. Startup reconciles the registry and drains the
// sideload directory before the listener opens.
//
// Lifecycle:
//
//	cfg, _ := config.Load()
//	srv, err := server.NewServer(cfg)
//	go srv.Run()
//	...
//	srv.Shutdown(ctx)
package server
