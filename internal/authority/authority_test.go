package authority

import (
	"context"
	"testing"
	"time"

	"github.com/ravidnaor/corrobot/internal/model"
	"github.com/ravidnaor/corrobot/internal/store"
)

type fakeStore struct {
	channels map[string]*model.ChannelRecord
	updates  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{channels: make(map[string]*model.ChannelRecord)}
}

func (f *fakeStore) EnsureChannel(ctx context.Context, channel string, class model.ChannelClass) (*model.ChannelRecord, error) {
	if rec, ok := f.channels[channel]; ok {
		return rec, nil
	}
	rec := &model.ChannelRecord{Channel: channel, Class: class, Score: baseline(class)}
	f.channels[channel] = rec
	return rec, nil
}
func (f *fakeStore) GetChannel(ctx context.Context, channel string) (*model.ChannelRecord, error) {
	return f.channels[channel], nil
}
func (f *fakeStore) UpdateAuthority(ctx context.Context, channel string, score float64, reason string) error {
	f.channels[channel].Score = score
	f.updates = append(f.updates, reason)
	return nil
}
func (f *fakeStore) BulkUpdateScores(ctx context.Context, records []model.ChannelRecord) error {
	for _, r := range records {
		f.channels[r.Channel].Score = r.Score
	}
	return nil
}
func (f *fakeStore) InsertEvent(ctx context.Context, ev *model.Event) error { return nil }
func (f *fakeStore) InsertEventSource(ctx context.Context, src model.Source) error { return nil }
func (f *fakeStore) UpdateEventStatus(ctx context.Context, eventID string, status model.Status, sentAt *time.Time) error {
	return nil
}
func (f *fakeStore) GetPendingEvents(ctx context.Context) ([]*model.Event, error) { return nil, nil }
func (f *fakeStore) EventSources(ctx context.Context, eventID string) ([]model.Source, error) {
	return nil, nil
}
func (f *fakeStore) CheckAndInsertDedup(ctx context.Context, hashKey string) (bool, error) {
	return false, nil
}
func (f *fakeStore) Cleanup(ctx context.Context, retention time.Duration) error { return nil }
func (f *fakeStore) Checkpoint(ctx context.Context) error                      { return nil }
func (f *fakeStore) Close() error                                              { return nil }

var _ store.Store = (*fakeStore)(nil)

func TestGetScore_LazyCreateAtClassBaseline(t *testing.T) {
	st := newFakeStore()
	tr := New(st, 0)

	s, err := tr.GetScore(context.Background(), "src-chan", model.ClassSource)
	if err != nil {
		t.Fatal(err)
	}
	if s != SourceBaseline {
		t.Errorf("got %v, want source baseline %v", s, SourceBaseline)
	}

	s, err = tr.GetScore(context.Background(), "smart-chan", model.ClassSmart)
	if err != nil {
		t.Fatal(err)
	}
	if s != SmartBaseline {
		t.Errorf("got %v, want smart baseline %v", s, SmartBaseline)
	}
}

func TestOnEventCorroborated_BoostsAllAndBonusesFirstReporter(t *testing.T) {
	st := newFakeStore()
	tr := New(st, 0)
	ctx := context.Background()

	tr.GetScore(ctx, "a", model.ClassSource)
	tr.GetScore(ctx, "b", model.ClassSource)

	if err := tr.OnEventCorroborated(ctx, []string{"a", "b"}, "a"); err != nil {
		t.Fatal(err)
	}

	wantA := SourceBaseline + CorroborationBoost + FirstToReportBoost
	wantB := SourceBaseline + CorroborationBoost
	if st.channels["a"].Score != wantA {
		t.Errorf("channel a score = %v, want %v", st.channels["a"].Score, wantA)
	}
	if st.channels["b"].Score != wantB {
		t.Errorf("channel b score = %v, want %v", st.channels["b"].Score, wantB)
	}
}

func TestOnEventExpiredUncorroborated_Penalizes(t *testing.T) {
	st := newFakeStore()
	tr := New(st, 0)
	ctx := context.Background()

	tr.GetScore(ctx, "a", model.ClassSource)
	if err := tr.OnEventExpiredUncorroborated(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	want := SourceBaseline - UncorroboratedUrgentPenalty
	if st.channels["a"].Score != want {
		t.Errorf("score = %v, want %v", st.channels["a"].Score, want)
	}
}

func TestScore_ClampedToBounds(t *testing.T) {
	st := newFakeStore()
	tr := New(st, 0)
	ctx := context.Background()
	tr.GetScore(ctx, "a", model.ClassSmart)

	for i := 0; i < 50; i++ {
		tr.OnEventCorroborated(ctx, []string{"a"}, "")
	}
	if st.channels["a"].Score > MaxScore {
		t.Errorf("score %v exceeds MaxScore %v", st.channels["a"].Score, MaxScore)
	}

	for i := 0; i < 50; i++ {
		tr.OnEventExpiredUncorroborated(ctx, "a")
	}
	if st.channels["a"].Score < MinScore {
		t.Errorf("score %v below MinScore %v", st.channels["a"].Score, MinScore)
	}
}

func TestApplyDecay_RegressesTowardBaseline(t *testing.T) {
	st := newFakeStore()
	tr := New(st, 0.5) // large rate to make the effect obvious
	ctx := context.Background()
	tr.GetScore(ctx, "a", model.ClassSource)
	tr.OnEventCorroborated(ctx, []string{"a"}, "")

	before := st.channels["a"].Score
	if err := tr.ApplyDecay(ctx); err != nil {
		t.Fatal(err)
	}
	after := st.channels["a"].Score

	if after >= before {
		t.Errorf("expected decay to pull score down toward baseline: before=%v after=%v", before, after)
	}
	if after < SourceBaseline {
		t.Errorf("decay should not overshoot the baseline: after=%v baseline=%v", after, SourceBaseline)
	}
}

func TestScoreLabel(t *testing.T) {
	tests := []struct {
		score float64
		want  Label
	}{
		{95, LabelHigh},
		{80, LabelHigh},
		{79.9, LabelMedium},
		{60, LabelMedium},
		{59.9, LabelLow},
		{10, LabelLow},
	}
	for _, tt := range tests {
		if got := ScoreLabel(tt.score); got != tt.want {
			t.Errorf("ScoreLabel(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestFirstReporter(t *testing.T) {
	now := time.Now()
	sources := []model.Source{
		{Channel: "b", ReportedAt: now.Add(2 * time.Minute)},
		{Channel: "a", ReportedAt: now},
		{Channel: "c", ReportedAt: now.Add(time.Minute)},
	}
	if got := FirstReporter(sources); got != "a" {
		t.Errorf("FirstReporter() = %q, want %q", got, "a")
	}
	if got := FirstReporter(nil); got != "" {
		t.Errorf("FirstReporter(nil) = %q, want empty", got)
	}
}
