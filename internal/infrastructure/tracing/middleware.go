package tracing

import (
	"github.com/gin-gonic/gin"
)

const (
	traceHeader = "X-Trace-ID"
	spanHeader  = "X-Span-ID"
)

// HTTPMiddleware traces every request. Each response carries the trace
// id so WebView clients can correlate their logs with the host's.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if traceID := c.GetHeader(traceHeader); traceID != "" {
			ctx = WithTrace(ctx, TraceID(traceID))
		}

		name := c.FullPath()
		if name == "" {
			name = c.Request.URL.Path
		}
		span, ctx := tracer.StartSpan(ctx, name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.client_ip", c.ClientIP())

		c.Request = c.Request.WithContext(ctx)
		c.Header(traceHeader, string(span.TraceID))
		c.Header(spanHeader, string(span.SpanID))

		c.Next()

		span.SetStatus(c.Writer.Status())
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		span.Finish()
		tracer.Submit(span)
	}
}
