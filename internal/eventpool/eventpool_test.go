package eventpool

import (
	"context"
	"testing"
	"time"

	"github.com/ravidnaor/corrobot/internal/model"
	"github.com/ravidnaor/corrobot/internal/store"
)

// fakeStore is a minimal in-memory store.Store for pool tests; it does not
// need dedup/authority support since the pool never calls those methods.
type fakeStore struct {
	events  map[string]*model.Event
	sources map[string][]model.Source
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: make(map[string]*model.Event), sources: make(map[string][]model.Source)}
}

func (f *fakeStore) EnsureChannel(ctx context.Context, channel string, class model.ChannelClass) (*model.ChannelRecord, error) {
	return nil, nil
}
func (f *fakeStore) GetChannel(ctx context.Context, channel string) (*model.ChannelRecord, error) {
	return nil, nil
}
func (f *fakeStore) UpdateAuthority(ctx context.Context, channel string, score float64, reason string) error {
	return nil
}
func (f *fakeStore) BulkUpdateScores(ctx context.Context, records []model.ChannelRecord) error {
	return nil
}
func (f *fakeStore) InsertEvent(ctx context.Context, ev *model.Event) error {
	f.events[ev.ID] = ev
	return nil
}
func (f *fakeStore) InsertEventSource(ctx context.Context, src model.Source) error {
	f.sources[src.EventID] = append(f.sources[src.EventID], src)
	return nil
}
func (f *fakeStore) UpdateEventStatus(ctx context.Context, eventID string, status model.Status, sentAt *time.Time) error {
	return nil
}
func (f *fakeStore) GetPendingEvents(ctx context.Context) ([]*model.Event, error) {
	out := make([]*model.Event, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev)
	}
	return out, nil
}
func (f *fakeStore) EventSources(ctx context.Context, eventID string) ([]model.Source, error) {
	return f.sources[eventID], nil
}
func (f *fakeStore) CheckAndInsertDedup(ctx context.Context, hashKey string) (bool, error) {
	return false, nil
}
func (f *fakeStore) Cleanup(ctx context.Context, retention time.Duration) error { return nil }
func (f *fakeStore) Checkpoint(ctx context.Context) error                      { return nil }
func (f *fakeStore) Close() error                                              { return nil }

var _ store.Store = (*fakeStore)(nil)

func sig(location, eventType string, entities ...string) model.Signature {
	return model.Signature{Location: location, EventType: model.EventType(eventType), Entities: entities}
}

func TestSignaturesMatch(t *testing.T) {
	tests := []struct {
		name string
		a, b model.Signature
		want float64
	}{
		{"identical location and type", sig("gaza", "strike", "a", "b"), sig("gaza", "strike", "a", "b"), 1.0},
		{"location only", sig("gaza", "other"), sig("gaza", "clash"), 0.5},
		{"region fallback", model.Signature{Region: "north", EventType: model.EventOther}, model.Signature{Region: "north", EventType: model.EventOther}, 0.2},
		{"type match excludes other", sig("", "other"), sig("", "other"), 0},
		{"type match counts", sig("", "strike"), sig("", "strike"), 0.3},
		{"no overlap", sig("gaza", "strike"), sig("lebanon", "clash"), 0},
		{"entities contribute partial", sig("", "other", "a", "b"), sig("", "other", "a", "c"), 0.2 * (1.0 / 3.0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SignaturesMatch(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("SignaturesMatch() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIngestWithSignature_CreatesNewEventBelowThreshold(t *testing.T) {
	st := newFakeStore()
	p := New(st)
	ctx := context.Background()
	now := time.Now()

	id1, err := p.IngestWithSignature(ctx, sig("gaza", "strike"), model.Message{Text: "first", Channel: "chA", ReceivedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := p.IngestWithSignature(ctx, sig("beirut", "clash"), model.Message{Text: "second", Channel: "chB", ReceivedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Fatal("expected distinct events for unrelated signatures")
	}
	if len(p.Active()) != 2 {
		t.Fatalf("expected 2 active events, got %d", len(p.Active()))
	}
}

func TestIngestWithSignature_MergesAtOrAboveThreshold(t *testing.T) {
	st := newFakeStore()
	p := New(st)
	ctx := context.Background()
	now := time.Now()

	id1, err := p.IngestWithSignature(ctx, sig("gaza", "strike", "hospital"), model.Message{Text: "first", Channel: "chA", ReceivedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := p.IngestWithSignature(ctx, sig("gaza", "strike", "hospital"), model.Message{Text: "second", Channel: "chB", ReceivedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("expected merge into same event, got %s and %s", id1, id2)
	}
	ev := st.events[id1]
	if len(ev.Channels) != 2 {
		t.Errorf("expected 2 contributing channels, got %d", len(ev.Channels))
	}
	if len(ev.Texts) != 2 {
		t.Errorf("expected 2 texts, got %d", len(ev.Texts))
	}
}

func TestIngestByFingerprint_SameChannelTwiceIsNoop(t *testing.T) {
	st := newFakeStore()
	p := New(st)
	ctx := context.Background()
	now := time.Now()

	id, err := p.IngestWithSignature(ctx, sig("gaza", "strike"), model.Message{Text: "first", Channel: "chA", ReceivedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.IngestByFingerprint(ctx, id, model.Message{Text: "dup", Channel: "chA", ReceivedAt: now}); err != nil {
		t.Fatal(err)
	}
	ev := st.events[id]
	if len(ev.Channels) != 1 {
		t.Errorf("expected channel set to stay a single entry (invariant I1), got %d", len(ev.Channels))
	}
	if len(st.sources[id]) != 1 {
		t.Errorf("expected no additional source row for a repeat channel, got %d", len(st.sources[id]))
	}
}

func TestExpire_RemovesFromFingerprintIndex(t *testing.T) {
	st := newFakeStore()
	p := New(st)
	ctx := context.Background()
	now := time.Now()

	id, err := p.IngestWithSignature(ctx, sig("gaza", "strike"), model.Message{Text: "only message here for fp", Channel: "chA", ReceivedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	fp := Fingerprint("only message here for fp")
	if _, ok := p.LookupFingerprint(fp); !ok {
		t.Fatal("expected fingerprint to be indexed before expiry")
	}

	p.Expire(id)

	if _, ok := p.LookupFingerprint(fp); ok {
		t.Error("fingerprint index must not outlive its event")
	}
	if len(p.Active()) != 0 {
		t.Error("expected no active events after expiry")
	}
}

func TestRestore_RepopulatesActiveAndFingerprintIndex(t *testing.T) {
	st := newFakeStore()
	now := time.Now()
	ev := &model.Event{
		ID:        "pre-existing",
		Signature: sig("gaza", "strike"),
		Texts:     []string{"older pending event text"},
		Channels:  map[string]struct{}{"chA": {}},
		FirstSeen: now,
		Status:    model.StatusPending,
	}
	st.events[ev.ID] = ev

	p := New(st)
	if err := p.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(p.Active()) != 1 {
		t.Fatalf("expected 1 restored event, got %d", len(p.Active()))
	}
	fp := Fingerprint("older pending event text")
	if id, ok := p.LookupFingerprint(fp); !ok || id != ev.ID {
		t.Error("expected fingerprint index to be reconstructed from the first text")
	}
}
