package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ravidnaor/corrobot/internal/authority"
	"github.com/ravidnaor/corrobot/internal/clock"
	"github.com/ravidnaor/corrobot/internal/dispatch"
	"github.com/ravidnaor/corrobot/internal/eventpool"
	"github.com/ravidnaor/corrobot/internal/model"
	"github.com/ravidnaor/corrobot/internal/store"
)

// fakeStore is a complete in-memory store.Store for pipeline tests.
type fakeStore struct {
	mu       sync.Mutex
	channels map[string]*model.ChannelRecord
	events   map[string]*model.Event
	sources  map[string][]model.Source
	dedup    map[string]struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		channels: make(map[string]*model.ChannelRecord),
		events:   make(map[string]*model.Event),
		sources:  make(map[string][]model.Source),
		dedup:    make(map[string]struct{}),
	}
}

func (f *fakeStore) EnsureChannel(ctx context.Context, channel string, class model.ChannelClass) (*model.ChannelRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.channels[channel]; ok {
		return rec, nil
	}
	base := authority.SourceBaseline
	if class == model.ClassSmart {
		base = authority.SmartBaseline
	}
	rec := &model.ChannelRecord{Channel: channel, Class: class, Score: base}
	f.channels[channel] = rec
	return rec, nil
}
func (f *fakeStore) GetChannel(ctx context.Context, channel string) (*model.ChannelRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[channel], nil
}
func (f *fakeStore) UpdateAuthority(ctx context.Context, channel string, score float64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[channel].Score = score
	return nil
}
func (f *fakeStore) BulkUpdateScores(ctx context.Context, records []model.ChannelRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		f.channels[r.Channel].Score = r.Score
	}
	return nil
}
func (f *fakeStore) InsertEvent(ctx context.Context, ev *model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[ev.ID] = ev
	return nil
}
func (f *fakeStore) InsertEventSource(ctx context.Context, src model.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[src.EventID] = append(f.sources[src.EventID], src)
	return nil
}
func (f *fakeStore) UpdateEventStatus(ctx context.Context, eventID string, status model.Status, sentAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev, ok := f.events[eventID]; ok {
		ev.Status = status
		if status == model.StatusSent {
			ev.Sent = true
		}
	}
	return nil
}
func (f *fakeStore) GetPendingEvents(ctx context.Context) ([]*model.Event, error) { return nil, nil }
func (f *fakeStore) EventSources(ctx context.Context, eventID string) ([]model.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[eventID], nil
}
func (f *fakeStore) CheckAndInsertDedup(ctx context.Context, hashKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.dedup[hashKey]; ok {
		return true, nil
	}
	f.dedup[hashKey] = struct{}{}
	return false, nil
}
func (f *fakeStore) Cleanup(ctx context.Context, retention time.Duration) error { return nil }
func (f *fakeStore) Checkpoint(ctx context.Context) error                      { return nil }
func (f *fakeStore) Close() error                                              { return nil }

var _ store.Store = (*fakeStore)(nil)

// fakeExtractor lets tests control the Signature Extractor's output without
// an HTTP round trip.
type fakeExtractor struct {
	sig *model.Signature
}

func (f *fakeExtractor) Extract(ctx context.Context, text string) (*model.Signature, error) {
	return f.sig, nil
}
func (f *fakeExtractor) SummarizeBatch(ctx context.Context, texts []string, authorityContext string) string {
	return "digest"
}
func (f *fakeExtractor) SummarizeTrend(ctx context.Context, text, authorityContext string) string {
	return "trend: " + text
}

var _ Extractor = (*fakeExtractor)(nil)

type fakeSender struct {
	mu   sync.Mutex
	sent []struct{ chat, text string }
}

func (f *fakeSender) SendText(ctx context.Context, chatID string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, struct{ chat, text string }{chatID, text})
	return nil
}

func newTestPipeline(t *testing.T, ext Extractor) (*Pipeline, *fakeStore, *fakeSender, *clock.Fake) {
	t.Helper()
	st := newFakeStore()
	pool := eventpool.New(st)
	tracker := authority.New(st, 0)
	sender := &fakeSender{}
	disp := dispatch.New(sender, "report-chat", "summary-chat")
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	cfg := DefaultConfig()
	cfg.EventMergeWindow = 5 * time.Minute
	cfg.MinSources = 2

	p := New(cfg, st, pool, tracker, ext, disp, clk)
	return p, st, sender, clk
}

func TestProcess_UrgentMessageGoesStraightToExtractor(t *testing.T) {
	ext := &fakeExtractor{sig: &model.Signature{Location: "gaza", EventType: model.EventStrike}}
	p, _, _, _ := newTestPipeline(t, ext)

	msg := model.Message{Text: "عاجل: قصف في المنطقة", Channel: "chA", Class: model.ClassSource, ReceivedAt: time.Now()}
	if err := p.Process(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	if p.Counters().Events != 1 {
		t.Errorf("expected 1 event created, got %d", p.Counters().Events)
	}
	if len(p.pool.Active()) != 1 {
		t.Errorf("expected 1 active event, got %d", len(p.pool.Active()))
	}
}

func TestProcess_NonUrgentLowAuthorityFallsBackToBatch(t *testing.T) {
	ext := &fakeExtractor{sig: nil}
	p, _, _, _ := newTestPipeline(t, ext)

	msg := model.Message{Text: "routine update with nothing special", Channel: "chA", Class: model.ClassSource, ReceivedAt: time.Now()}
	if err := p.Process(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	if p.Counters().Events != 0 {
		t.Errorf("expected no event created for a non-urgent low-authority message, got %d", p.Counters().Events)
	}
	if len(p.pool.Active()) != 0 {
		t.Error("expected no active events; message should have gone to the batch collector")
	}
}

func TestProcess_DuplicateTextIsDropped(t *testing.T) {
	ext := &fakeExtractor{sig: &model.Signature{Location: "gaza", EventType: model.EventStrike}}
	p, _, _, _ := newTestPipeline(t, ext)

	msg := model.Message{Text: "عاجل: حدث مهم جدا", Channel: "chA", Class: model.ClassSource, ReceivedAt: time.Now()}
	if err := p.Process(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if err := p.Process(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	if p.Counters().Events != 1 {
		t.Errorf("expected the repeat to be deduped, got %d events", p.Counters().Events)
	}
}

func TestAggregator_CorroboratedEventDispatchesTrendReport(t *testing.T) {
	ext := &fakeExtractor{sig: &model.Signature{Location: "gaza", EventType: model.EventStrike}}
	p, st, sender, clk := newTestPipeline(t, ext)
	ctx := context.Background()

	msgA := model.Message{Text: "عاجل: قصف في غزة الليلة", Channel: "chA", Class: model.ClassSource, ReceivedAt: clk.Now()}
	msgB := model.Message{Text: "עדכון דחוף על תקיפה בעזה", Channel: "chB", Class: model.ClassSmart, ReceivedAt: clk.Now()}

	if err := p.Process(ctx, msgA); err != nil {
		t.Fatal(err)
	}
	if err := p.Process(ctx, msgB); err != nil {
		t.Fatal(err)
	}

	clk.Advance(10 * time.Minute) // past EventMergeWindow
	if err := p.aggregatorTick(ctx); err != nil {
		t.Fatal(err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one trend report sent, got %d", len(sender.sent))
	}
	if sender.sent[0].chat != "report-chat" {
		t.Errorf("expected trend report on report-chat, got %q", sender.sent[0].chat)
	}
	if len(p.pool.Active()) != 0 {
		t.Error("expected the event to be expired from the pool after dispatch")
	}

	var ev *model.Event
	for _, e := range st.events {
		ev = e
	}
	if ev == nil || ev.Status != model.StatusSent {
		t.Error("expected event status to be persisted as sent")
	}
}

func TestAggregator_SingleSourceHighAuthorityAlert(t *testing.T) {
	ext := &fakeExtractor{sig: &model.Signature{Location: "beirut", EventType: model.EventStrike}}
	p, st, sender, clk := newTestPipeline(t, ext)
	ctx := context.Background()

	st.channels["chA"] = &model.ChannelRecord{Channel: "chA", Class: model.ClassSource, Score: 85}

	msg := model.Message{Text: "عاجل: قصف في بيروت", Channel: "chA", Class: model.ClassSource, ReceivedAt: clk.Now()}
	if err := p.Process(ctx, msg); err != nil {
		t.Fatal(err)
	}

	clk.Advance(10 * time.Minute)
	if err := p.aggregatorTick(ctx); err != nil {
		t.Fatal(err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected a single-source alert to be sent, got %d sends", len(sender.sent))
	}
}

func TestAggregator_SingleSourceLowAuthorityUrgentExpiresWithPenalty(t *testing.T) {
	ext := &fakeExtractor{sig: &model.Signature{Location: "beirut", EventType: model.EventStrike, IsUrgent: true}}
	p, st, sender, clk := newTestPipeline(t, ext)
	ctx := context.Background()

	msg := model.Message{Text: "عاجل: حدث غير مؤكد", Channel: "chA", Class: model.ClassSource, ReceivedAt: clk.Now()}
	if err := p.Process(ctx, msg); err != nil {
		t.Fatal(err)
	}

	before := st.channels["chA"].Score
	clk.Advance(10 * time.Minute)
	if err := p.aggregatorTick(ctx); err != nil {
		t.Fatal(err)
	}

	if len(sender.sent) != 0 {
		t.Errorf("expected no alert for a low-authority uncorroborated event, got %d", len(sender.sent))
	}
	after := st.channels["chA"].Score
	if after >= before {
		t.Errorf("expected uncorroborated-urgent penalty to lower the score: before=%v after=%v", before, after)
	}
	if len(p.pool.Active()) != 0 {
		t.Error("expected the event to expire from the pool")
	}
}

func TestAggregator_BelowMinSourcesStillExpiresFromPool(t *testing.T) {
	// MinSources above 2 (CORROBOT_MIN_SOURCES is operator-configurable,
	// spec.md §6) opens a gap between the ">= MinSources" and "== 1" branches
	// that a mature 2-channel event must still fall into and be reaped from.
	ext := &fakeExtractor{sig: &model.Signature{Location: "gaza", EventType: model.EventStrike}}
	st := newFakeStore()
	pool := eventpool.New(st)
	tracker := authority.New(st, 0)
	sender := &fakeSender{}
	disp := dispatch.New(sender, "report-chat", "summary-chat")
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	cfg := DefaultConfig()
	cfg.EventMergeWindow = 5 * time.Minute
	cfg.MinSources = 3

	p := New(cfg, st, pool, tracker, ext, disp, clk)
	ctx := context.Background()

	msgA := model.Message{Text: "عاجل: قصف في غزة الليلة", Channel: "chA", Class: model.ClassSource, ReceivedAt: clk.Now()}
	msgB := model.Message{Text: "עדכון דחוף על תקיפה בעזה", Channel: "chB", Class: model.ClassSmart, ReceivedAt: clk.Now()}

	if err := p.Process(ctx, msgA); err != nil {
		t.Fatal(err)
	}
	if err := p.Process(ctx, msgB); err != nil {
		t.Fatal(err)
	}

	clk.Advance(10 * time.Minute)
	if err := p.aggregatorTick(ctx); err != nil {
		t.Fatal(err)
	}

	if len(sender.sent) != 0 {
		t.Errorf("expected no dispatch below MinSources, got %d", len(sender.sent))
	}
	if len(p.pool.Active()) != 0 {
		t.Error("expected the event to be removed from the pool even though it never reached MinSources")
	}

	var ev *model.Event
	for _, e := range st.events {
		ev = e
	}
	if ev == nil || ev.Status != model.StatusExpired {
		t.Error("expected the event to be persisted as expired")
	}
}
