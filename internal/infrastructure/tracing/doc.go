/*
Package tracing provides lightweight request tracing.

Every HTTP request, including WebSocket upgrades, gets a span. Trace ids
arriving in X-Trace-ID / X-Span-ID are continued, otherwise a new trace
starts. Finished spans are logged through zap by a background collector.
Bridge logs pick up the trace id from the request context so a whole
connection can be followed.

	tracer := tracing.New("aura-backend", logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))

	traceID := tracing.GetTraceID(c.Request.Context())
*/
package tracing
