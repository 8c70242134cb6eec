// Package tracing assigns a trace id to every API request and logs
// request spans through zap.
//
// Finished spans are the host's request log: one structured line per
// request with trace id, route, method, status and duration. Trace ids
// round-trip through the X-Trace-ID header so the hosting WebView can
// correlate its console output with the host's logs.
//
//	tracer := tracing.New("exthost", logger)
//	router.Use(tracing.HTTPMiddleware(tracer))
//
//	span, ctx := tracer.StartSpan(ctx, "operation")
//	defer func() {
//		span.Finish()
//		tracer.Submit(span)
//	}()
package tracing
