// Package eventpool implements the Event Pool (C4): the in-memory index of
// active events, fingerprint and semantic lookup, merge-on-sighting, and
// restore-on-startup.
//
// Grounded on original_source/correlation.py (EventPool, signatures_match,
// sha1_match).
package eventpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ravidnaor/corrobot/internal/model"
	"github.com/ravidnaor/corrobot/internal/store"
	"github.com/ravidnaor/corrobot/internal/textnorm"
)

// DefaultMatchThreshold is the typical semantic-score cutoff for merging
// into an existing event rather than creating a new one (spec.md §4.3),
// overridable per-Pool via SetMatchThreshold (CORROBOT_MATCH_THRESHOLD).
const DefaultMatchThreshold = 0.6

// Pool holds the active-event working set and its fingerprint index.
// All methods must be called from the Pipeline's single task context —
// the type itself is not safe for unsynchronized concurrent use beyond the
// internal mutex that protects the maps.
type Pool struct {
	store store.Store

	mu               sync.Mutex
	active           map[string]*model.Event
	fingerprintIndex map[string]string // fingerprint -> event id
	matchThreshold   float64
}

// New constructs an empty Pool backed by st, at DefaultMatchThreshold.
func New(st store.Store) *Pool {
	return &Pool{
		store:            st,
		active:           make(map[string]*model.Event),
		fingerprintIndex: make(map[string]string),
		matchThreshold:   DefaultMatchThreshold,
	}
}

// SetMatchThreshold overrides the semantic-match cutoff used by
// IngestWithSignature. A zero or negative value is ignored.
func (p *Pool) SetMatchThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}
	p.mu.Lock()
	p.matchThreshold = threshold
	p.mu.Unlock()
}

// Fingerprint derives the cheap pre-match key for a normalized text.
func Fingerprint(normalizedText string) string {
	return textnorm.Fingerprint(normalizedText)
}

// Active returns a snapshot slice of every currently-pending event. Callers
// (the aggregator loop) must not retain the slice across a pool mutation.
func (p *Pool) Active() []*model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*model.Event, 0, len(p.active))
	for _, ev := range p.active {
		out = append(out, ev)
	}
	return out
}

// LookupFingerprint returns the event id indexed under fp, if any.
func (p *Pool) LookupFingerprint(fp string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.fingerprintIndex[fp]
	return id, ok
}

// IngestByFingerprint adds msg to the named event if its channel is not
// already a contributor, updating texts/channels/permalinks and persisting
// a new source row. It is a no-op merge (still persists nothing new) if the
// channel has already contributed.
func (p *Pool) IngestByFingerprint(ctx context.Context, eventID string, msg model.Message) error {
	p.mu.Lock()
	ev, ok := p.active[eventID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("ingest_by_fingerprint: event %s not active", eventID)
	}
	_, already := ev.Channels[msg.Channel]
	if !already {
		ev.Channels[msg.Channel] = struct{}{}
		ev.ChannelClass[msg.Channel] = msg.Class
		ev.Texts = append(ev.Texts, msg.Text)
		if msg.Permalink != "" {
			ev.Permalinks = append(ev.Permalinks, msg.Permalink)
		}
		ev.LastUpdated = msg.ReceivedAt
	}
	p.mu.Unlock()

	if already {
		return nil
	}
	return p.store.InsertEventSource(ctx, model.Source{
		EventID:    eventID,
		Channel:    msg.Channel,
		ReportedAt: msg.ReceivedAt,
		RawText:    msg.Text,
		Permalink:  msg.Permalink,
	})
}

// IngestWithSignature scores sig against every active event, merges into the
// best match at or above the Pool's match threshold, or creates a new Event
// otherwise. Returns the event id that absorbed the sighting.
func (p *Pool) IngestWithSignature(ctx context.Context, sig model.Signature, msg model.Message) (string, error) {
	p.mu.Lock()
	var bestID string
	var bestScore float64
	for id, ev := range p.active {
		score := SignaturesMatch(ev.Signature, sig)
		if score > bestScore {
			bestScore = score
			bestID = id
		}
	}
	threshold := p.matchThreshold
	p.mu.Unlock()

	if bestID != "" && bestScore >= threshold {
		if err := p.IngestByFingerprint(ctx, bestID, msg); err != nil {
			return "", err
		}
		return bestID, nil
	}
	return p.createEvent(ctx, sig, msg)
}

func (p *Pool) createEvent(ctx context.Context, sig model.Signature, msg model.Message) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	ev := &model.Event{
		ID:           id,
		Signature:    sig,
		Texts:        []string{msg.Text},
		Channels:     map[string]struct{}{msg.Channel: {}},
		ChannelClass: map[string]model.ChannelClass{msg.Channel: msg.Class},
		FirstSeen:    msg.ReceivedAt,
		LastUpdated:  msg.ReceivedAt,
		SourceCount:  0,
		Status:       model.StatusPending,
	}
	if msg.Permalink != "" {
		ev.Permalinks = []string{msg.Permalink}
	}

	fp := Fingerprint(msg.Text)

	if err := p.store.InsertEvent(ctx, ev); err != nil {
		return "", fmt.Errorf("insert_event: %w", err)
	}
	if err := p.store.InsertEventSource(ctx, model.Source{
		EventID: id, Channel: msg.Channel, ReportedAt: msg.ReceivedAt,
		RawText: msg.Text, Permalink: msg.Permalink,
	}); err != nil {
		return "", fmt.Errorf("insert_event_source: %w", err)
	}

	p.mu.Lock()
	p.active[id] = ev
	p.fingerprintIndex[fp] = id
	p.mu.Unlock()
	return id, nil
}

// Expire removes an event from both the active map and the fingerprint
// index — the index must never outlive its event.
func (p *Pool) Expire(eventID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, eventID)
	for fp, id := range p.fingerprintIndex {
		if id == eventID {
			delete(p.fingerprintIndex, fp)
		}
	}
}

// Restore loads every pending event from the Durable Store into the active
// map on startup, reconstructing fingerprint entries from each event's
// first source text.
func (p *Pool) Restore(ctx context.Context) error {
	events, err := p.store.GetPendingEvents(ctx)
	if err != nil {
		return fmt.Errorf("get_pending_events: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range events {
		p.active[ev.ID] = ev
		if len(ev.Texts) > 0 {
			fp := Fingerprint(ev.Texts[0])
			p.fingerprintIndex[fp] = ev.ID
		}
	}
	return nil
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, e := range a {
		setA[e] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, e := range b {
		setB[e] = struct{}{}
	}
	inter := 0
	for e := range setA {
		if _, ok := setB[e]; ok {
			inter++
		}
	}
	union := len(setA)
	for e := range setB {
		if _, ok := setA[e]; !ok {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// SignaturesMatch is the weighted semantic match score between two
// signatures, capped at 1.0: location match +0.5 (else region match +0.2),
// event_type match excluding "other" +0.3, entity Jaccard overlap * 0.2.
func SignaturesMatch(a, b model.Signature) float64 {
	var score float64
	if a.Location != "" && a.Location == b.Location {
		score += 0.5
	} else if a.Region != "" && a.Region == b.Region {
		score += 0.2
	}
	if a.EventType == b.EventType && a.EventType != model.EventOther {
		score += 0.3
	}
	score += jaccard(a.Entities, b.Entities) * 0.2
	if score > 1.0 {
		score = 1.0
	}
	return score
}
