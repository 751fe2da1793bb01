// Package observability provides monitoring and debugging capabilities for
// the RestFlow agent execution engine through metrics, structured logging,
// distributed tracing, and a queryable event timeline.
//
// # Overview
//
// The package implements four complementary pillars:
//
//  1. Metrics - Quantitative measurements using Prometheus (§4.1-§4.6)
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed span tracing with OpenTelemetry
//  4. Events  - A queryable, replayable timeline of what one invocation did
//
// # Architecture
//
// The package is designed to be:
//   - Low-overhead: minimal performance impact on the executor loop
//   - Type-safe: strongly-typed APIs reduce configuration errors
//   - Optional: every collaborator is a nil-checked field on its consumer, so
//     an Executor, Dispatcher, or Manager built without observability wiring
//     behaves exactly as it would with it
//   - Standards-based: built on Prometheus, OpenTelemetry, and slog
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - LLM request latency, token usage, and estimated cost
//   - Tool dispatch counts and latencies (§4.2)
//   - Executor loop iteration counts and outcomes (§4.1)
//   - Stuck-detector interventions (§4.4)
//   - Checkpoint save/resume/sweep activity (§4.5)
//   - Sub-agent spawn/completion activity and active count (§4.6)
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
//	start = time.Now()
//	// ... dispatch a tool call ...
//	metrics.RecordToolExecution("web_search", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	logger.Info(ctx, "checkpoint saved",
//	    "execution_id", executionID,
//	    "reason", reason,
//	)
//
//	logger.Error(ctx, "LLM request failed",
//	    "error", err,
//	    "provider", "anthropic",
//	    "api_key", apiKey, // Automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to give span-per-iteration and
// span-per-tool-call visibility into one invocation:
//   - One span per executor loop iteration (§4.1)
//   - A child span per dispatched tool call (§4.2)
//   - A span per sub-agent run (§4.6)
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "restflow-engine",
//	    ServiceVersion: "1.0.0",
//	    Environment:    "production",
//	    Endpoint:       "localhost:4317", // OTLP collector
//	    SamplingRate:   0.1,              // Sample 10% of traces
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceIteration(ctx, executionID, iteration)
//	defer span.End()
//
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", "claude-3-opus")
//	defer llmSpan.End()
//
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "web_search")
//	defer toolSpan.End()
//	if err != nil {
//	    tracer.RecordError(toolSpan, err)
//	}
//
// # Events
//
// The event timeline records what a single invocation did, independent of
// metrics and spans, so a completed (or interrupted) run can be replayed and
// inspected after the fact — complementary to the Checkpoint store, which
// persists state for resuming rather than for review.
//
// Example usage:
//
//	store := observability.NewMemoryEventStore(10000)
//	recorder := observability.NewEventRecorder(store, logger)
//
//	ctx = observability.AddExecutionID(ctx, executionID)
//	recorder.RecordRunStart(ctx, executionID, map[string]interface{}{"goal": goal})
//	recorder.RecordToolStart(ctx, "web_search", args)
//	recorder.RecordToolEnd(ctx, "web_search", duration, output, nil)
//	recorder.RecordRunEnd(ctx, duration, nil)
//
//	events, _ := store.GetByExecutionID(executionID)
//	fmt.Println(observability.FormatTimeline(observability.BuildTimeline(events)))
//
// # Context Propagation
//
// Logging and events integrate with Go's context for automatic correlation:
//
//	ctx = observability.AddRequestID(ctx, "req-123")
//	ctx = observability.AddExecutionID(ctx, executionID)
//	ctx = observability.AddToolCallID(ctx, callID)
//
//	logger.Info(ctx, "dispatching tool call") // includes request_id, etc.
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Testing
//
// All components provide testable interfaces:
//   - Metrics can be verified using prometheus/testutil
//   - Logging can write to bytes.Buffer for assertions
//   - Tracing works with the no-op tracer returned when TraceConfig.Endpoint
//     is empty
//   - Events use an in-memory store with no external dependencies
package observability
