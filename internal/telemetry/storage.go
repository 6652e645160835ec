package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/mpsync/internal/storage"
	"github.com/steveyegge/mpsync/internal/types"
)

const storageScopeName = "github.com/steveyegge/mpsync/storage"

// InstrumentedStore wraps storage.IdentityStore with OTel tracing and
// metrics. Every call gets a span and is counted in mpsync.store.* metrics.
type InstrumentedStore struct {
	inner  storage.IdentityStore
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
	hits   metric.Int64Counter
}

var _ storage.IdentityStore = (*InstrumentedStore)(nil)

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is.
func WrapStore(s storage.IdentityStore) storage.IdentityStore {
	if !Enabled() {
		return s
	}
	return newInstrumentedStore(s, Meter(storageScopeName), Tracer(storageScopeName))
}

func newInstrumentedStore(s storage.IdentityStore, m metric.Meter, tracer trace.Tracer) *InstrumentedStore {
	ops, _ := m.Int64Counter("mpsync.store.operations",
		metric.WithDescription("Total identity store operations executed"),
	)
	dur, _ := m.Float64Histogram("mpsync.store.operation.duration",
		metric.WithDescription("Identity store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("mpsync.store.errors",
		metric.WithDescription("Total identity store operation errors"),
	)
	hits, _ := m.Int64Counter("mpsync.store.mapping.lookups",
		metric.WithDescription("Mapping lookups by kind and outcome"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: tracer,
		ops:    ops,
		dur:    dur,
		errs:   errs,
		hits:   hits,
	}
}

// Unwrap returns the decorated store.
func (s *InstrumentedStore) Unwrap() storage.IdentityStore {
	return s.inner
}

func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "store."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Microseconds()) / 1000
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) GetMapping(ctx context.Context, kind types.EntityKind, sourceKey string) (int64, bool, error) {
	attrs := []attribute.KeyValue{attribute.String("mpsync.kind", string(kind))}
	ctx, span, t := s.op(ctx, "GetMapping", attrs...)
	id, ok, err := s.inner.GetMapping(ctx, kind, sourceKey)
	if err == nil {
		s.hits.Add(ctx, 1, metric.WithAttributes(
			attribute.String("mpsync.kind", string(kind)),
			attribute.Bool("mpsync.hit", ok),
		))
		span.SetAttributes(attribute.Bool("mpsync.hit", ok))
	}
	s.done(ctx, span, t, err, attrs...)
	return id, ok, err
}

func (s *InstrumentedStore) PutMapping(ctx context.Context, kind types.EntityKind, sourceKey string, targetID int64) error {
	attrs := []attribute.KeyValue{attribute.String("mpsync.kind", string(kind))}
	ctx, span, t := s.op(ctx, "PutMapping", attrs...)
	err := s.inner.PutMapping(ctx, kind, sourceKey, targetID)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) CountMappings(ctx context.Context, kind types.EntityKind) (int, error) {
	attrs := []attribute.KeyValue{attribute.String("mpsync.kind", string(kind))}
	ctx, span, t := s.op(ctx, "CountMappings", attrs...)
	n, err := s.inner.CountMappings(ctx, kind)
	s.done(ctx, span, t, err, attrs...)
	return n, err
}

func (s *InstrumentedStore) GetWatermark(ctx context.Context, projectID string) (time.Time, bool, error) {
	attrs := []attribute.KeyValue{attribute.String("mpsync.project", projectID)}
	ctx, span, t := s.op(ctx, "GetWatermark", attrs...)
	v, ok, err := s.inner.GetWatermark(ctx, projectID)
	s.done(ctx, span, t, err, attrs...)
	return v, ok, err
}

func (s *InstrumentedStore) SetWatermark(ctx context.Context, projectID string, ts time.Time) error {
	attrs := []attribute.KeyValue{attribute.String("mpsync.project", projectID)}
	ctx, span, t := s.op(ctx, "SetWatermark", attrs...)
	err := s.inner.SetWatermark(ctx, projectID, ts)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) ListWatermarks(ctx context.Context) (map[string]time.Time, error) {
	ctx, span, t := s.op(ctx, "ListWatermarks")
	v, err := s.inner.ListWatermarks(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

// Close is not traced; it runs after the last span has ended.
func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
