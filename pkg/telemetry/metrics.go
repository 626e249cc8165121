package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// BPMMetrics are the buffer pool manager's OTel instruments: hit/miss rate
// and eviction counts, served on /metrics via the Prometheus
// exporter wired in New.
type BPMMetrics struct {
	Hits      metric.Int64Counter
	Misses    metric.Int64Counter
	Evictions metric.Int64Counter
}

// NewBPMMetrics registers the buffer pool counters against meter. Safe to
// call with the no-op meter returned by a disabled Telemetry.
func NewBPMMetrics(meter metric.Meter) (*BPMMetrics, error) {
	hits, err := meter.Int64Counter("bptreedb.bufferpool.hits",
		metric.WithDescription("pages served from an already-resident frame"))
	if err != nil {
		return nil, err
	}
	misses, err := meter.Int64Counter("bptreedb.bufferpool.misses",
		metric.WithDescription("pages that required a disk read"))
	if err != nil {
		return nil, err
	}
	evictions, err := meter.Int64Counter("bptreedb.bufferpool.evictions",
		metric.WithDescription("frames reclaimed from the replacer to satisfy a fetch or new_page"))
	if err != nil {
		return nil, err
	}
	return &BPMMetrics{Hits: hits, Misses: misses, Evictions: evictions}, nil
}

func (m *BPMMetrics) recordHit(ctx context.Context)      { m.Hits.Add(ctx, 1) }
func (m *BPMMetrics) recordMiss(ctx context.Context)     { m.Misses.Add(ctx, 1) }
func (m *BPMMetrics) recordEviction(ctx context.Context) { m.Evictions.Add(ctx, 1) }

// RecordHit, RecordMiss and RecordEviction are the exported entry points the
// buffer pool manager calls; they tolerate a nil receiver so metrics stay
// optional for callers that construct a BufferPoolManager without telemetry.
func (m *BPMMetrics) RecordHit(ctx context.Context) {
	if m != nil {
		m.recordHit(ctx)
	}
}

func (m *BPMMetrics) RecordMiss(ctx context.Context) {
	if m != nil {
		m.recordMiss(ctx)
	}
}

func (m *BPMMetrics) RecordEviction(ctx context.Context) {
	if m != nil {
		m.recordEviction(ctx)
	}
}

// TreeMetrics are the B+-tree's OTel instruments: per-operation latency,
// structural modification counts (splits, merges, redistributes), and the
// tracer used to open a span per Get/Insert/Remove call.
type TreeMetrics struct {
	OpLatency  metric.Float64Histogram
	Structural metric.Int64Counter
	Tracer     trace.Tracer
}

// NewTreeMetrics registers the tree counters against meter and attaches
// tracer for per-operation spans. A nil tracer defaults to a no-op one, so
// callers that don't care about tracing can pass nil.
func NewTreeMetrics(meter metric.Meter, tracer trace.Tracer) (*TreeMetrics, error) {
	lat, err := meter.Float64Histogram("bptreedb.tree.op_latency_ms",
		metric.WithDescription("wall-clock latency of Get/Insert/Remove, in milliseconds"))
	if err != nil {
		return nil, err
	}
	structural, err := meter.Int64Counter("bptreedb.tree.structural_modifications",
		metric.WithDescription("splits, merges and redistributes performed during Insert/Remove"))
	if err != nil {
		return nil, err
	}
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("")
	}
	return &TreeMetrics{OpLatency: lat, Structural: structural, Tracer: tracer}, nil
}

// StartSpan opens a span named "bptree.<op>" if m carries a tracer,
// tolerating a nil receiver so tracing stays optional. The returned done
// func ends the span; call it via defer.
func (m *TreeMetrics) StartSpan(ctx context.Context, op string) (context.Context, func()) {
	if m == nil || m.Tracer == nil {
		return ctx, func() {}
	}
	ctx, span := m.Tracer.Start(ctx, "bptree."+op)
	return ctx, func() { span.End() }
}

func (m *TreeMetrics) RecordOp(ctx context.Context, op string, ms float64) {
	if m == nil {
		return
	}
	m.OpLatency.Record(ctx, ms, metric.WithAttributes(attrOp(op)))
}

func (m *TreeMetrics) RecordStructural(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.Structural.Add(ctx, 1, metric.WithAttributes(attrKind(kind)))
}

// RegisterHeightGauge registers an observable gauge that reports a tree's
// height on every collection, by calling fetch. fetch is expected to be
// Tree.Stats trimmed down to just the height; a failed or empty-tree read
// is skipped rather than failing the whole collection.
func (m *TreeMetrics) RegisterHeightGauge(meter metric.Meter, indexName string, fetch func(context.Context) (int64, bool)) error {
	if m == nil || meter == nil || fetch == nil {
		return nil
	}
	_, err := meter.Int64ObservableGauge(
		"bptreedb.tree.height",
		metric.WithDescription("current root-to-leaf height of the tree"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			height, ok := fetch(ctx)
			if !ok {
				return nil
			}
			o.Observe(height, metric.WithAttributes(attrIndex(indexName)))
			return nil
		}),
	)
	return err
}
