// Package pipeline orchestrates the Pipeline (C6): dedup -> extract -> pool
// ingest, plus the aggregator and maintenance background loops.
//
// Pipeline.process follows the gated variant resolved in spec.md §9's open
// question: urgent-or-high-authority messages go straight to the extractor;
// everything else takes the cheap fingerprint path or falls back to the
// batch collector. original_source/pipeline.py's all-through-AI variant is
// NOT carried forward — see DESIGN.md.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ravidnaor/corrobot/internal/authority"
	"github.com/ravidnaor/corrobot/internal/clock"
	"github.com/ravidnaor/corrobot/internal/dispatch"
	"github.com/ravidnaor/corrobot/internal/eventpool"
	"github.com/ravidnaor/corrobot/internal/extractor"
	"github.com/ravidnaor/corrobot/internal/model"
	"github.com/ravidnaor/corrobot/internal/store"
	"github.com/ravidnaor/corrobot/internal/textnorm"
)

const tracerName = "github.com/ravidnaor/corrobot/internal/pipeline"

// Extractor is the narrow interface Pipeline needs from extractor.Client —
// named here so tests can fake it without an HTTP round-trip.
type Extractor interface {
	Extract(ctx context.Context, text string) (*model.Signature, error)
	SummarizeBatch(ctx context.Context, texts []string, authorityContext string) string
	SummarizeTrend(ctx context.Context, text, authorityContext string) string
}

var _ Extractor = (*extractor.Client)(nil)

// Pipeline wires the Durable Store, Event Pool, Authority Tracker,
// Signature Extractor and Dispatcher into the end-to-end ingest path.
type Pipeline struct {
	cfg Config

	store      store.Store
	pool       *eventpool.Pool
	tracker    *authority.Tracker
	extractor  Extractor
	dispatcher *dispatch.Dispatcher
	clock      clock.Clock
	tracer     trace.Tracer

	shortTermDedup *boundedSet
	batch          *batchCollector

	startedAt time.Time

	counters struct {
		messages, events, summaries, errors int64
	}
}

// New constructs a Pipeline. Call Restore before Process, RunAggregator and
// RunMaintenance to repopulate the Event Pool from any pending events left
// by a prior run.
func New(cfg Config, st store.Store, pool *eventpool.Pool, tracker *authority.Tracker,
	ext Extractor, disp *dispatch.Dispatcher, clk clock.Clock) *Pipeline {
	p := &Pipeline{
		cfg:            cfg,
		store:          st,
		pool:           pool,
		tracker:        tracker,
		extractor:      ext,
		dispatcher:     disp,
		clock:          clk,
		tracer:         otel.Tracer(tracerName),
		shortTermDedup: newBoundedSet(cfg.DedupCacheSize),
		startedAt:      clk.Now(),
	}
	p.batch = newBatchCollector(cfg.BatchSize, cfg.MaxBatchAge, cfg.SummaryMinInterval, clk, p.flushBatch)
	return p
}

// SetTracer overrides the tracer used for Process/aggregator/maintenance
// spans. New defaults to the global otel tracer, which is a no-op until
// telemetry.Setup installs a real provider.
func (p *Pipeline) SetTracer(t trace.Tracer) {
	p.tracer = t
}

// Restore repopulates the Event Pool from the Durable Store's pending events.
func (p *Pipeline) Restore(ctx context.Context) error {
	return p.pool.Restore(ctx)
}

// Process is the Pipeline's public entry point (spec.md §4.5).
func (p *Pipeline) Process(ctx context.Context, msg model.Message) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.process")
	defer span.End()

	if msg.ReceivedAt.Before(p.startedAt) {
		return nil // dropped: older than fan-in start time, already filtered upstream too
	}
	p.counters.messages++

	key := textnorm.DedupKey(msg.Text)

	if p.shortTermDedup.checkAndAdd(key) {
		return nil // in-memory short-term repeat
	}
	existed, err := p.store.CheckAndInsertDedup(ctx, key)
	if err != nil {
		p.counters.errors++
		return fmt.Errorf("process: dedup check: %w", err)
	}
	if existed {
		return nil
	}

	score, err := p.tracker.GetScore(ctx, msg.Channel, msg.Class)
	if err != nil {
		p.counters.errors++
		return fmt.Errorf("process: get score: %w", err)
	}
	urgent := textnorm.LooksUrgent(msg.Text)

	if urgent || score >= p.cfg.HighAuthorityThreshold {
		sig, err := p.extractor.Extract(ctx, msg.Text)
		if err != nil {
			p.counters.errors++
			return fmt.Errorf("process: extract: %w", err)
		}
		if sig != nil {
			if _, err := p.pool.IngestWithSignature(ctx, *sig, msg); err != nil {
				p.counters.errors++
				return fmt.Errorf("process: ingest_with_signature: %w", err)
			}
			p.counters.events++
			return nil
		}
		if urgent {
			p.batch.push(msg, score)
			return nil
		}
		return nil
	}

	if id, ok := p.pool.LookupFingerprint(textnorm.Fingerprint(msg.Text)); ok {
		if err := p.pool.IngestByFingerprint(ctx, id, msg); err != nil {
			p.counters.errors++
			return fmt.Errorf("process: ingest_by_fingerprint: %w", err)
		}
		return nil
	}
	p.batch.push(msg, score)
	return nil
}

// Counters returns the hourly-logged observability counters (§7).
type Counters struct {
	Messages, Events, Summaries, Errors int64
}

func (p *Pipeline) Counters() Counters {
	return Counters{
		Messages:  p.counters.messages,
		Events:    p.counters.events,
		Summaries: p.counters.summaries,
		Errors:    p.counters.errors,
	}
}

func (p *Pipeline) logCounters() {
	c := p.Counters()
	slog.Info("pipeline counters", "messages", c.Messages, "events", c.Events,
		"summaries", c.Summaries, "errors", c.Errors)
}
