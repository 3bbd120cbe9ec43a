package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mailworks/mailworks/internal/kv"
)

const kvScopeName = "github.com/mailworks/mailworks/kv"

// InstrumentedStore wraps kv.Store with OTel tracing and metrics.
// Every method gets a span and is counted in mw.kv.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner  kv.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStore(s kv.Store) kv.Store {
	if !Enabled() {
		return s
	}
	m := Meter(kvScopeName)
	ops, _ := m.Int64Counter("mw.kv.operations",
		metric.WithDescription("Total KV operations executed"),
	)
	dur, _ := m.Float64Histogram("mw.kv.operation.duration",
		metric.WithDescription("KV operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("mw.kv.errors",
		metric.WithDescription("Total KV operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(kvScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// op starts a span and records a metric for the named KV operation.
func (s *InstrumentedStore) op(ctx context.Context, name, key string) (context.Context, trace.Span, time.Time) {
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", name),
		attribute.String("mw.kv.key", key),
	}
	ctx, span := s.tracer.Start(ctx, "kv."+name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(attribute.String("db.operation", name)))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error. ErrNotFound is a
// normal outcome, not an error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, name string, start time.Time, err error) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attribute.String("db.operation", name)))
	if err != nil && err != kv.ErrNotFound {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attribute.String("db.operation", name)))
	}
	span.End()
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (string, error) {
	ctx, span, t := s.op(ctx, "Get", key)
	v, err := s.inner.Get(ctx, key)
	s.done(ctx, span, "Get", t, err)
	return v, err
}

func (s *InstrumentedStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, span, t := s.op(ctx, "Set", key)
	err := s.inner.Set(ctx, key, value, ttl)
	s.done(ctx, span, "Set", t, err)
	return err
}

func (s *InstrumentedStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, span, t := s.op(ctx, "SetNX", key)
	ok, err := s.inner.SetNX(ctx, key, value, ttl)
	span.SetAttributes(attribute.Bool("mw.kv.acquired", ok))
	s.done(ctx, span, "SetNX", t, err)
	return ok, err
}

func (s *InstrumentedStore) Del(ctx context.Context, keys ...string) error {
	key := ""
	if len(keys) > 0 {
		key = keys[0]
	}
	ctx, span, t := s.op(ctx, "Del", key)
	span.SetAttributes(attribute.Int("mw.kv.key_count", len(keys)))
	err := s.inner.Del(ctx, keys...)
	s.done(ctx, span, "Del", t, err)
	return err
}

func (s *InstrumentedStore) HGet(ctx context.Context, key, field string) (string, error) {
	ctx, span, t := s.op(ctx, "HGet", key)
	v, err := s.inner.HGet(ctx, key, field)
	s.done(ctx, span, "HGet", t, err)
	return v, err
}

func (s *InstrumentedStore) HSet(ctx context.Context, key, field, value string) error {
	ctx, span, t := s.op(ctx, "HSet", key)
	err := s.inner.HSet(ctx, key, field, value)
	s.done(ctx, span, "HSet", t, err)
	return err
}

func (s *InstrumentedStore) HDel(ctx context.Context, key string, fields ...string) error {
	ctx, span, t := s.op(ctx, "HDel", key)
	err := s.inner.HDel(ctx, key, fields...)
	s.done(ctx, span, "HDel", t, err)
	return err
}

func (s *InstrumentedStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, span, t := s.op(ctx, "HGetAll", key)
	v, err := s.inner.HGetAll(ctx, key)
	if err == nil {
		span.SetAttributes(attribute.Int("mw.kv.field_count", len(v)))
	}
	s.done(ctx, span, "HGetAll", t, err)
	return v, err
}

func (s *InstrumentedStore) HLen(ctx context.Context, key string) (int64, error) {
	ctx, span, t := s.op(ctx, "HLen", key)
	v, err := s.inner.HLen(ctx, key)
	s.done(ctx, span, "HLen", t, err)
	return v, err
}

func (s *InstrumentedStore) ZAdd(ctx context.Context, key string, members ...kv.Z) error {
	ctx, span, t := s.op(ctx, "ZAdd", key)
	span.SetAttributes(attribute.Int("mw.kv.member_count", len(members)))
	err := s.inner.ZAdd(ctx, key, members...)
	s.done(ctx, span, "ZAdd", t, err)
	return err
}

func (s *InstrumentedStore) ZRem(ctx context.Context, key string, members ...string) error {
	ctx, span, t := s.op(ctx, "ZRem", key)
	err := s.inner.ZRem(ctx, key, members...)
	s.done(ctx, span, "ZRem", t, err)
	return err
}

func (s *InstrumentedStore) ZPopMin(ctx context.Context, key string) (kv.Z, error) {
	ctx, span, t := s.op(ctx, "ZPopMin", key)
	v, err := s.inner.ZPopMin(ctx, key)
	s.done(ctx, span, "ZPopMin", t, err)
	return v, err
}

func (s *InstrumentedStore) ZCard(ctx context.Context, key string) (int64, error) {
	ctx, span, t := s.op(ctx, "ZCard", key)
	v, err := s.inner.ZCard(ctx, key)
	s.done(ctx, span, "ZCard", t, err)
	return v, err
}

func (s *InstrumentedStore) ZScore(ctx context.Context, key, member string) (float64, error) {
	ctx, span, t := s.op(ctx, "ZScore", key)
	v, err := s.inner.ZScore(ctx, key, member)
	s.done(ctx, span, "ZScore", t, err)
	return v, err
}

func (s *InstrumentedStore) ZRangeByScore(ctx context.Context, key string, min, max float64, offset, count int64) ([]kv.Z, error) {
	ctx, span, t := s.op(ctx, "ZRangeByScore", key)
	v, err := s.inner.ZRangeByScore(ctx, key, min, max, offset, count)
	if err == nil {
		span.SetAttributes(attribute.Int("mw.kv.result_count", len(v)))
	}
	s.done(ctx, span, "ZRangeByScore", t, err)
	return v, err
}

func (s *InstrumentedStore) ZRange(ctx context.Context, key string, start, stop int64, rev bool) ([]kv.Z, error) {
	ctx, span, t := s.op(ctx, "ZRange", key)
	v, err := s.inner.ZRange(ctx, key, start, stop, rev)
	if err == nil {
		span.SetAttributes(attribute.Int("mw.kv.result_count", len(v)))
	}
	s.done(ctx, span, "ZRange", t, err)
	return v, err
}

func (s *InstrumentedStore) Scan(ctx context.Context, pattern string, batch int64, fn func(keys []string) error) error {
	ctx, span, t := s.op(ctx, "Scan", pattern)
	err := s.inner.Scan(ctx, pattern, batch, fn)
	s.done(ctx, span, "Scan", t, err)
	return err
}

func (s *InstrumentedStore) Type(ctx context.Context, key string) (string, error) {
	ctx, span, t := s.op(ctx, "Type", key)
	v, err := s.inner.Type(ctx, key)
	s.done(ctx, span, "Type", t, err)
	return v, err
}

func (s *InstrumentedStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, span, t := s.op(ctx, "TTL", key)
	v, err := s.inner.TTL(ctx, key)
	s.done(ctx, span, "TTL", t, err)
	return v, err
}

// Pipeline wraps the batch so Exec is traced as one round trip.
func (s *InstrumentedStore) Pipeline() kv.Pipeline {
	return &instrumentedPipeline{inner: s.inner.Pipeline(), store: s}
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span, t := s.op(ctx, "Ping", "")
	err := s.inner.Ping(ctx)
	s.done(ctx, span, "Ping", t, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}

type instrumentedPipeline struct {
	inner kv.Pipeline
	store *InstrumentedStore
	cmds  int
}

func (p *instrumentedPipeline) Set(key, value string, ttl time.Duration) {
	p.cmds++
	p.inner.Set(key, value, ttl)
}

func (p *instrumentedPipeline) Del(keys ...string) {
	p.cmds++
	p.inner.Del(keys...)
}

func (p *instrumentedPipeline) HSet(key, field, value string) {
	p.cmds++
	p.inner.HSet(key, field, value)
}

func (p *instrumentedPipeline) HDel(key string, fields ...string) {
	p.cmds++
	p.inner.HDel(key, fields...)
}

func (p *instrumentedPipeline) ZAdd(key string, members ...kv.Z) {
	p.cmds++
	p.inner.ZAdd(key, members...)
}

func (p *instrumentedPipeline) ZRem(key string, members ...string) {
	p.cmds++
	p.inner.ZRem(key, members...)
}

func (p *instrumentedPipeline) Exec(ctx context.Context) error {
	ctx, span, t := p.store.op(ctx, "Pipeline.Exec", "")
	span.SetAttributes(attribute.Int("mw.kv.command_count", p.cmds))
	err := p.inner.Exec(ctx)
	p.store.done(ctx, span, "Pipeline.Exec", t, err)
	return err
}
