package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging, tracing, metrics, and events.
type Telemetry struct {
	Logger    *Logger
	Tracer    *Tracer
	Metrics   *Metrics
	Events    *EventPublisher
	Config    *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Initialize logger
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	// Initialize tracer
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	// Initialize metrics
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	// Initialize event publisher
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	// Metrics server is not explicitly shut down here as it may need to continue
	// serving metrics until the very end of the application lifecycle

	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// Context Helpers for common instrumentation patterns

// InstrumentedContext creates a context with telemetry, logger fields, and a trace span.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	// Start trace span
	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	// Create logger with operation field
	logger := tel.Logger.WithField("operation", operation)

	// Add trace context to logger if available
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// WithRunContext creates a context enriched with run-specific telemetry.
func WithRunContext(ctx context.Context, runID, user string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	// Start run span
	spanCtx, span := tel.Tracer.StartRunSpan(ctx, runID)

	// Create run-specific logger
	logger := tel.Logger.WithRunID(runID).WithField("user", user)
	spanCtx = logger.WithContext(spanCtx)

	// Record run started metric
	tel.Metrics.RecordRunStarted(user)

	// Publish run started event
	_ = tel.Events.PublishRunStarted(runID, user)

	// Store the span in context for later retrieval
	spanCtx = context.WithValue(spanCtx, runSpanKey{}, span)

	return spanCtx
}

// runSpanKey is the context key for run spans.
type runSpanKey struct{}

// EndRunContext completes the run context, recording metrics and events.
func EndRunContext(ctx context.Context, runID, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	// Get the run span from context
	if span, ok := ctx.Value(runSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	// Calculate duration (this is approximate, real duration should come from run metadata)
	timer := NewTimer()
	duration := timer.Duration()

	// Record metrics
	tel.Metrics.RecordRunCompleted(status, duration)

	// Publish events
	if err != nil {
		_ = tel.Events.PublishRunFailed(runID, err.Error())
	} else {
		_ = tel.Events.PublishRunCompleted(runID, status, duration)
	}
}

// WithNodeContext creates a context enriched with task-graph node-specific
// telemetry: one span, one logger carrying node_name/node_type fields, and
// a "node started" event.
func WithNodeContext(ctx context.Context, runID, nodeName, nodeType, operation string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartNodeSpan(ctx, nodeName, nodeType, operation)

	logger := tel.Logger.
		WithRunID(runID).
		WithNodeName(nodeName).
		WithNodeType(nodeType).
		WithField("operation", operation)
	spanCtx = logger.WithContext(spanCtx)

	_ = tel.Events.PublishNodeStarted(runID, nodeName, nodeType, operation)

	spanCtx = context.WithValue(spanCtx, nodeSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, nodeTimerKey{}, NewTimer())

	return spanCtx
}

// nodeSpanKey is the context key for task-graph node spans.
type nodeSpanKey struct{}

// nodeTimerKey is the context key for task-graph node timers.
type nodeTimerKey struct{}

// EndNodeContext completes the node context, recording metrics and events.
func EndNodeContext(ctx context.Context, runID, nodeName, nodeType, operation, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(nodeSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(nodeTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	tel.Metrics.RecordNodeExecution(operation, status, duration, nodeType)

	if err != nil {
		_ = tel.Events.PublishNodeFailed(runID, nodeName, nodeType, err.Error())
	} else {
		_ = tel.Events.PublishNodeCompleted(runID, nodeName, nodeType, duration)
	}
}

// WithProviderContext creates a context enriched with provider-specific telemetry.
func WithProviderContext(ctx context.Context, providerName, providerVersion string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	// Create provider-specific logger
	logger := tel.Logger.WithProvider(providerName, providerVersion)
	return logger.WithContext(ctx)
}

// RecordProviderOperation records a provider operation with metrics and tracing.
func RecordProviderOperation(ctx context.Context, providerName, operation string, fn func() error) error {
	tel := FromTelemetryContext(ctx)

	// Start span
	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartProviderSpan(ctx, providerName, operation)
		defer span.End()
	}

	// Start timer
	timer := NewTimer()

	// Execute operation
	err := fn()

	// Record metrics
	if tel != nil {
		duration := timer.Duration()
		tel.Metrics.RecordProviderCall(providerName, operation, duration)
		if err != nil {
			tel.Metrics.RecordProviderError(providerName, operation)
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
	}

	return err
}
