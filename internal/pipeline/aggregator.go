package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ravidnaor/corrobot/internal/authority"
	"github.com/ravidnaor/corrobot/internal/dispatch"
	"github.com/ravidnaor/corrobot/internal/model"
)

// RunAggregator runs the aggregator loop every cfg.FlushEvery until ctx is
// cancelled (spec.md §4.5.2).
func (p *Pipeline) RunAggregator(ctx context.Context) error {
	for {
		if err := p.clock.Sleep(ctx, p.cfg.FlushEvery); err != nil {
			return nil // context cancelled: graceful stop, not an error
		}
		p.batch.checkAge(ctx, p.clock.Now())
		if err := p.aggregatorTick(ctx); err != nil {
			slog.Error("pipeline: aggregator tick failed", "error", err)
		}
	}
}

func (p *Pipeline) aggregatorTick(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.aggregator_tick")
	defer span.End()

	now := p.clock.Now()
	for _, ev := range p.pool.Active() {
		if err := p.evaluateEvent(ctx, ev, now); err != nil {
			slog.Error("pipeline: evaluate event failed", "event", ev.ID, "error", err)
		}
	}
	return nil
}

func (p *Pipeline) evaluateEvent(ctx context.Context, ev *model.Event, now time.Time) error {
	if now.Sub(ev.FirstSeen) < p.cfg.EventMergeWindow {
		return nil // still accumulating
	}
	if ev.Sent {
		p.pool.Expire(ev.ID)
		return nil
	}

	channels := make([]string, 0, len(ev.Channels))
	for ch := range ev.Channels {
		channels = append(channels, ch)
	}

	if len(channels) >= p.cfg.MinSources {
		return p.dispatchCorroborated(ctx, ev, channels, now)
	}
	if len(channels) == 1 {
		return p.evaluateSingleSource(ctx, ev, channels[0], now)
	}
	// 2 <= len(channels) < MinSources: below the corroboration threshold but
	// not a single source either. original_source/pipeline.py:100-115 always
	// expires a mature event after the if/elif, regardless of channel count —
	// every mature event leaves the pool exactly once.
	return p.expireUncorroborated(ctx, ev)
}

func (p *Pipeline) expireUncorroborated(ctx context.Context, ev *model.Event) error {
	if err := p.store.UpdateEventStatus(ctx, ev.ID, model.StatusExpired, nil); err != nil {
		return fmt.Errorf("update_event_status: %w", err)
	}
	p.pool.Expire(ev.ID)
	return nil
}

func (p *Pipeline) dispatchCorroborated(ctx context.Context, ev *model.Event, channels []string, now time.Time) error {
	sources, err := p.store.EventSources(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("event_sources: %w", err)
	}
	firstReporter := authority.FirstReporter(sources)

	scores := make([]float64, 0, len(channels))
	for _, ch := range channels {
		s, err := p.tracker.GetScore(ctx, ch, ev.ChannelClass[ch])
		if err != nil {
			return fmt.Errorf("get score %s: %w", ch, err)
		}
		scores = append(scores, s)
	}

	trend := p.extractor.SummarizeTrend(ctx, joinTexts(ev.Texts), renderAuthorityContextForEvent(channels, scores))
	if trend == "" {
		trend = joinTexts(ev.Texts)
	}
	rendered := dispatch.Render(trend, scores, ev.Permalinks)

	if err := p.dispatcher.SendTrendReport(ctx, ev, rendered); err != nil {
		return fmt.Errorf("send_trend_report: %w", err)
	}
	if err := p.tracker.OnEventCorroborated(ctx, channels, firstReporter); err != nil {
		return fmt.Errorf("on_event_corroborated: %w", err)
	}
	if err := p.store.UpdateEventStatus(ctx, ev.ID, model.StatusSent, &now); err != nil {
		return fmt.Errorf("update_event_status: %w", err)
	}
	p.pool.Expire(ev.ID)
	p.counters.summaries++
	return nil
}

func (p *Pipeline) evaluateSingleSource(ctx context.Context, ev *model.Event, channel string, now time.Time) error {
	score, err := p.tracker.GetScore(ctx, channel, ev.ChannelClass[channel])
	if err != nil {
		return fmt.Errorf("get score %s: %w", channel, err)
	}

	if score >= 80 {
		rendered := dispatch.Render(joinTexts(ev.Texts), []float64{score}, ev.Permalinks)
		if err := p.dispatcher.SendSingleSourceAlert(ctx, ev, rendered); err != nil {
			return fmt.Errorf("send_single_source_alert: %w", err)
		}
		if err := p.store.UpdateEventStatus(ctx, ev.ID, model.StatusSent, &now); err != nil {
			return fmt.Errorf("update_event_status: %w", err)
		}
		p.pool.Expire(ev.ID)
		return nil
	}

	if ev.Signature.IsUrgent {
		if err := p.tracker.OnEventExpiredUncorroborated(ctx, channel); err != nil {
			return fmt.Errorf("on_event_expired_uncorroborated: %w", err)
		}
	}
	if err := p.store.UpdateEventStatus(ctx, ev.ID, model.StatusExpired, nil); err != nil {
		return fmt.Errorf("update_event_status: %w", err)
	}
	p.pool.Expire(ev.ID)
	return nil
}

func joinTexts(texts []string) string {
	out := ""
	for i, t := range texts {
		if i > 0 {
			out += "\n"
		}
		out += t
	}
	return out
}

func renderAuthorityContextForEvent(channels []string, scores []float64) string {
	out := ""
	for i, ch := range channels {
		if i >= len(scores) {
			break
		}
		out += fmt.Sprintf("%s (%s) ", ch, authority.ScoreLabel(scores[i]))
	}
	return out
}
