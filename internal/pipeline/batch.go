package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ravidnaor/corrobot/internal/authority"
	"github.com/ravidnaor/corrobot/internal/clock"
	"github.com/ravidnaor/corrobot/internal/model"
)

type scoredMessage struct {
	msg   model.Message
	score float64
}

// flushFunc renders and dispatches a batch of collected messages.
type flushFunc func(ctx context.Context, items []scoredMessage)

// batchCollector is the size-and-age-bounded collector from spec.md §4.5.1:
// it holds non-urgent, unmatched messages and flushes on BATCH_SIZE or
// MAX_BATCH_AGE. A single mutex guards the pending items: a full or aged-out
// batch is taken out under it, and onFlush runs after it is released.
type batchCollector struct {
	maxSize  int
	maxAge   time.Duration
	minGap   time.Duration
	clock    clock.Clock
	onFlush  flushFunc

	mu       sync.Mutex
	items    []scoredMessage
	oldestAt time.Time

	sendMu   sync.Mutex
	lastSent time.Time
}

func newBatchCollector(maxSize int, maxAge, minGap time.Duration, clk clock.Clock, onFlush flushFunc) *batchCollector {
	return &batchCollector{maxSize: maxSize, maxAge: maxAge, minGap: minGap, clock: clk, onFlush: onFlush}
}

// push appends msg to the collector, flushing immediately if BATCH_SIZE is
// reached. Age-bounded flushing is driven by checkAge, called from the
// aggregator loop's tick so an idle batch still drains eventually.
func (b *batchCollector) push(msg model.Message, score float64) {
	b.mu.Lock()
	if len(b.items) == 0 {
		b.oldestAt = msg.ReceivedAt
	}
	b.items = append(b.items, scoredMessage{msg: msg, score: score})
	shouldFlush := len(b.items) >= b.maxSize
	var batch []scoredMessage
	if shouldFlush {
		batch = b.items
		b.items = nil
	}
	b.mu.Unlock()

	if shouldFlush {
		b.onFlush(context.Background(), batch)
	}
}

// checkAge flushes the collector if its oldest message exceeds maxAge.
func (b *batchCollector) checkAge(ctx context.Context, now time.Time) {
	b.mu.Lock()
	if len(b.items) == 0 || now.Sub(b.oldestAt) < b.maxAge {
		b.mu.Unlock()
		return
	}
	batch := b.items
	b.items = nil
	b.mu.Unlock()

	b.onFlush(ctx, batch)
}

// allowSend enforces SUMMARY_MIN_INTERVAL, serialized by a dedicated lock
// separate from the collector's push/flush lock (spec.md §5).
func (b *batchCollector) allowSend(now time.Time) bool {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	if !b.lastSent.IsZero() && now.Sub(b.lastSent) < b.minGap {
		return false
	}
	b.lastSent = now
	return true
}

// flushBatch renders the digest (top-3 contributing channels by score as
// "authority context") and hands it to the Dispatcher.
func (p *Pipeline) flushBatch(ctx context.Context, items []scoredMessage) {
	if len(items) == 0 {
		return
	}
	if !p.batch.allowSend(p.clock.Now()) {
		slog.Info("pipeline: batch summary suppressed by rate limit", "pending", len(items))
		return
	}

	texts := make([]string, len(items))
	permalinks := make([]string, 0, len(items))
	for i, it := range items {
		texts[i] = it.msg.Text
		if it.msg.Permalink != "" {
			permalinks = append(permalinks, it.msg.Permalink)
		}
	}

	authorityContext := renderAuthorityContext(items)
	digest := p.extractor.SummarizeBatch(ctx, texts, authorityContext)
	if digest == "" {
		slog.Warn("pipeline: batch summary empty, dropping")
		return
	}

	if err := p.dispatcher.SendBatchDigest(ctx, digest); err != nil {
		p.counters.errors++
		slog.Error("pipeline: send batch digest failed", "error", err)
		return
	}
	p.counters.summaries++
}

// renderAuthorityContext lists the top three contributing channels by score
// and their labels, the "light-weight authority context" from spec.md §4.5.1.
func renderAuthorityContext(items []scoredMessage) string {
	type chscore struct {
		channel string
		score   float64
	}
	byChannel := make(map[string]float64)
	for _, it := range items {
		if s, ok := byChannel[it.msg.Channel]; !ok || it.score > s {
			byChannel[it.msg.Channel] = it.score
		}
	}
	ranked := make([]chscore, 0, len(byChannel))
	for ch, s := range byChannel {
		ranked = append(ranked, chscore{ch, s})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}
	var out string
	for _, r := range ranked {
		out += fmt.Sprintf("%s (%s) ", r.channel, authority.ScoreLabel(r.score))
	}
	return out
}
