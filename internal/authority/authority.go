// Package authority implements the Authority Tracker (C3): per-channel
// reliability scoring with corroboration boosts, uncorroborated-urgent
// penalties, and hourly decay toward a class baseline.
//
// Grounded on original_source/authority.py's AuthorityTracker.
package authority

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ravidnaor/corrobot/internal/model"
	"github.com/ravidnaor/corrobot/internal/store"
)

const (
	MaxScore = 95.0
	MinScore = 10.0

	CorroborationBoost         = 2.0
	FirstToReportBoost         = 3.0
	UncorroboratedUrgentPenalty = 1.5

	DefaultDecayRate = 0.01

	SourceBaseline = 35.0
	SmartBaseline  = 55.0
)

// Label is the presentation tier derived from a score.
type Label string

const (
	LabelHigh   Label = "high"
	LabelMedium Label = "medium"
	LabelLow    Label = "low"
)

// ScoreLabel maps a numeric score to its presentation tier.
func ScoreLabel(score float64) Label {
	switch {
	case score >= 80:
		return LabelHigh
	case score >= 60:
		return LabelMedium
	default:
		return LabelLow
	}
}

func clamp(score float64) float64 {
	if score > MaxScore {
		return MaxScore
	}
	if score < MinScore {
		return MinScore
	}
	return score
}

func baseline(class model.ChannelClass) float64 {
	if class == model.ClassSmart {
		return SmartBaseline
	}
	return SourceBaseline
}

// Tracker caches scores and class baselines in memory and writes every
// adjustment through to the Durable Store.
type Tracker struct {
	store     store.Store
	decayRate float64

	mu          sync.RWMutex
	scoreCache  map[string]float64
	classCache  map[string]model.ChannelClass
}

// New constructs a Tracker. decayRate is typically 0.01; pass 0 to use the default.
func New(st store.Store, decayRate float64) *Tracker {
	if decayRate <= 0 {
		decayRate = DefaultDecayRate
	}
	return &Tracker{
		store:      st,
		decayRate:  decayRate,
		scoreCache: make(map[string]float64),
		classCache: make(map[string]model.ChannelClass),
	}
}

// GetScore returns the channel's current authority score, creating the
// channel lazily (at its class baseline) on first sight.
func (t *Tracker) GetScore(ctx context.Context, channel string, class model.ChannelClass) (float64, error) {
	t.mu.RLock()
	if s, ok := t.scoreCache[channel]; ok {
		t.mu.RUnlock()
		return s, nil
	}
	t.mu.RUnlock()

	rec, err := t.store.EnsureChannel(ctx, channel, class)
	if err != nil {
		return 0, fmt.Errorf("ensure_channel %s: %w", channel, err)
	}
	t.mu.Lock()
	t.scoreCache[channel] = rec.Score
	t.classCache[channel] = rec.Class
	t.mu.Unlock()
	return rec.Score, nil
}

func (t *Tracker) GetLabel(ctx context.Context, channel string, class model.ChannelClass) (Label, error) {
	s, err := t.GetScore(ctx, channel, class)
	if err != nil {
		return "", err
	}
	return ScoreLabel(s), nil
}

func (t *Tracker) adjust(ctx context.Context, channel string, delta float64, reason string) error {
	t.mu.Lock()
	cur, ok := t.scoreCache[channel]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("adjust %s: channel not yet known", channel)
	}
	next := clamp(cur + delta)
	t.scoreCache[channel] = next
	t.mu.Unlock()

	if err := t.store.UpdateAuthority(ctx, channel, next, reason); err != nil {
		return fmt.Errorf("update_authority %s (%s): %w", channel, reason, err)
	}
	return nil
}

// OnEventCorroborated boosts every contributor of a corroborated event and
// gives the earliest reporter (per authority.FirstReporter) the additional
// first-to-report bonus.
func (t *Tracker) OnEventCorroborated(ctx context.Context, channels []string, firstReporter string) error {
	for _, ch := range channels {
		if err := t.adjust(ctx, ch, CorroborationBoost, "corroborated"); err != nil {
			return err
		}
	}
	if firstReporter != "" {
		if err := t.adjust(ctx, firstReporter, FirstToReportBoost, "first_to_report"); err != nil {
			return err
		}
	}
	return nil
}

// OnEventExpiredUncorroborated penalizes the sole contributor of an urgent
// event that expired without corroboration.
func (t *Tracker) OnEventExpiredUncorroborated(ctx context.Context, channel string) error {
	return t.adjust(ctx, channel, -UncorroboratedUrgentPenalty, "uncorroborated_urgent")
}

// ApplyDecay regresses every cached score toward its class baseline by
// decayRate * (score - baseline), once per maintenance-loop tick.
func (t *Tracker) ApplyDecay(ctx context.Context) error {
	t.mu.Lock()
	records := make([]model.ChannelRecord, 0, len(t.scoreCache))
	for ch, score := range t.scoreCache {
		cls := t.classCache[ch]
		b := baseline(cls)
		next := clamp(score - t.decayRate*(score-b))
		t.scoreCache[ch] = next
		records = append(records, model.ChannelRecord{Channel: ch, Class: cls, Score: next})
	}
	t.mu.Unlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Channel < records[j].Channel })
	if len(records) == 0 {
		return nil
	}
	if err := t.store.BulkUpdateScores(ctx, records); err != nil {
		return fmt.Errorf("apply_decay bulk update: %w", err)
	}
	return nil
}

// FirstReporter returns the channel of the earliest source row by
// reported_at — the REDESIGN FLAG resolution of the "first-to-report"
// heuristic (min(reported_at), not a repeated event.first_ts).
func FirstReporter(sources []model.Source) string {
	if len(sources) == 0 {
		return ""
	}
	first := sources[0]
	for _, s := range sources[1:] {
		if s.ReportedAt.Before(first.ReportedAt) {
			first = s
		}
	}
	return first.Channel
}
