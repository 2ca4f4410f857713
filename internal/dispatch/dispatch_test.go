package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/ravidnaor/corrobot/internal/model"
)

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

func TestReliabilityFor(t *testing.T) {
	tests := []struct {
		mean float64
		want Reliability
	}{
		{70, ReliabilityHigh},
		{100, ReliabilityHigh},
		{45, ReliabilityMedium},
		{69.9, ReliabilityMedium},
		{0, ReliabilityLow},
		{44.9, ReliabilityLow},
	}
	for _, tt := range tests {
		if got := reliabilityFor(tt.mean); got != tt.want {
			t.Errorf("reliabilityFor(%v) = %v, want %v", tt.mean, got, tt.want)
		}
	}
}

func TestVerificationFor(t *testing.T) {
	tests := []struct {
		count int
		want  Verification
	}{
		{1, VerificationSingular},
		{2, VerificationRecurring},
		{3, VerificationVerified},
		{5, VerificationVerified},
	}
	for _, tt := range tests {
		if got := verificationFor(tt.count); got != tt.want {
			t.Errorf("verificationFor(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestRenderFooter_CapsAtMaxPermalinks(t *testing.T) {
	links := []string{"f", "e", "d", "c", "b", "a"}
	got := renderFooter(links)
	count := strings.Count(got, "- ")
	if count != MaxPermalinks {
		t.Errorf("expected %d rendered links, got %d:\n%s", MaxPermalinks, count, got)
	}
}

func TestRenderFooter_EmptyWhenNoPermalinks(t *testing.T) {
	if got := renderFooter(nil); got != "" {
		t.Errorf("expected empty footer, got %q", got)
	}
}

func TestSend_DedupesByContentFingerprint(t *testing.T) {
	sender := &fakeSender{}
	d := New(sender, "report-chat", "summary-chat")
	ctx := context.Background()

	ev := &model.Event{ID: "e1"}
	rendered := Render("strike reported", []float64{80}, []string{"https://t.me/a/1"})

	if err := d.SendTrendReport(ctx, ev, rendered); err != nil {
		t.Fatal(err)
	}
	if err := d.SendTrendReport(ctx, ev, rendered); err != nil {
		t.Fatal(err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one send for identical content, got %d", len(sender.sent))
	}
	if sender.sent[0].chat != "report-chat" {
		t.Errorf("expected trend report to target reportChat, got %q", sender.sent[0].chat)
	}
}

func TestSendBatchDigest_TargetsSummaryChat(t *testing.T) {
	sender := &fakeSender{}
	d := New(sender, "report-chat", "summary-chat")
	if err := d.SendBatchDigest(context.Background(), "digest body"); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 || sender.sent[0].chat != "summary-chat" {
		t.Fatalf("expected batch digest on summary-chat, got %+v", sender.sent)
	}
}
