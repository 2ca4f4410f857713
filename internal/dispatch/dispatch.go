// Package dispatch implements the Dispatcher (C7): renders a mature event
// into an output message, sends it, and deduplicates by content fingerprint
// so retried sends stay at-most-once.
//
// Grounded on original_source/sender.py (_reliability_badge, _source_badge,
// SENT_CACHE).
package dispatch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"

	"github.com/ravidnaor/corrobot/internal/model"
)

// MaxPermalinks caps the footer's contributing-source list.
const MaxPermalinks = 5

// Sender is the transport-side send operation the Dispatcher calls into.
// Kept minimal and separate from the richer ingest-side transport.Session
// contract — the Dispatcher only ever needs to push text to one chat id.
type Sender interface {
	SendText(ctx context.Context, chatID string, text string) error
}

// Reliability is the coarse badge derived from the mean contributor score.
type Reliability string

const (
	ReliabilityLow    Reliability = "low"
	ReliabilityMedium Reliability = "medium"
	ReliabilityHigh   Reliability = "high"
)

// Verification is the badge derived from contributor count.
type Verification string

const (
	VerificationSingular Verification = "singular"
	VerificationRecurring Verification = "recurring"
	VerificationVerified  Verification = "verified"
)

func reliabilityFor(meanScore float64) Reliability {
	switch {
	case meanScore >= 70:
		return ReliabilityHigh
	case meanScore >= 45:
		return ReliabilityMedium
	default:
		return ReliabilityLow
	}
}

func verificationFor(contributorCount int) Verification {
	switch {
	case contributorCount >= 3:
		return VerificationVerified
	case contributorCount == 2:
		return VerificationRecurring
	default:
		return VerificationSingular
	}
}

// Dispatcher renders and sends trend reports, single-source alerts, and
// batch digests, each deduplicated against a bounded recent-sends cache.
type Dispatcher struct {
	sender       Sender
	reportChat   string
	summaryChat  string

	mu        sync.Mutex
	sentCache map[string]struct{}
	sentOrder []string
	cacheCap  int
}

// New constructs a Dispatcher. reportChat receives trend reports and
// single-source alerts; summaryChat receives batch digests (may be the
// same chat — spec.md §9 leaves the destination configurable). An empty
// summaryChat falls back to reportChat.
func New(sender Sender, reportChat, summaryChat string) *Dispatcher {
	if summaryChat == "" {
		summaryChat = reportChat
	}
	return &Dispatcher{
		sender:      sender,
		reportChat:  reportChat,
		summaryChat: summaryChat,
		sentCache:   make(map[string]struct{}),
		cacheCap:    2000,
	}
}

func (d *Dispatcher) fingerprint(rendered string) string {
	sum := sha1.Sum([]byte(rendered))
	return hex.EncodeToString(sum[:])
}

// alreadySent reports whether fp is in the recent-sends cache, inserting it
// (with bounded eviction) if not — guaranteeing at-most-once dispatch.
func (d *Dispatcher) alreadySent(fp string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sentCache[fp]; ok {
		return true
	}
	d.sentCache[fp] = struct{}{}
	d.sentOrder = append(d.sentOrder, fp)
	if len(d.sentOrder) > d.cacheCap {
		oldest := d.sentOrder[0]
		d.sentOrder = d.sentOrder[1:]
		delete(d.sentCache, oldest)
	}
	return false
}

func meanScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// renderHeader builds the reliability/verification badge line.
func renderHeader(scores []float64) string {
	r := reliabilityFor(meanScore(scores))
	v := verificationFor(len(scores))
	return fmt.Sprintf("[%s reliability · %s]", r, v)
}

// renderFooter lists up to MaxPermalinks contributing sources, width-aware
// truncated so Arabic/Hebrew text preceding it never corrupts the rendering.
func renderFooter(permalinks []string) string {
	if len(permalinks) == 0 {
		return ""
	}
	links := append([]string(nil), permalinks...)
	sort.Strings(links)
	if len(links) > MaxPermalinks {
		links = links[:MaxPermalinks]
	}
	var b strings.Builder
	b.WriteString("\nsources:\n")
	for _, l := range links {
		b.WriteString("- ")
		b.WriteString(runewidth.Truncate(l, 80, "…"))
		b.WriteString("\n")
	}
	return b.String()
}

// Render builds the final message body for an event given its contributor
// scores, used by both trend reports and single-source alerts.
func Render(body string, scores []float64, permalinks []string) string {
	return renderHeader(scores) + "\n" + body + renderFooter(permalinks)
}

func (d *Dispatcher) send(ctx context.Context, chat, rendered string) error {
	fp := d.fingerprint(rendered)
	if d.alreadySent(fp) {
		return nil // duplicate output: silent drop, not an error
	}
	return d.sender.SendText(ctx, chat, rendered)
}

// SendTrendReport dispatches a corroborated event's report to reportChat.
func (d *Dispatcher) SendTrendReport(ctx context.Context, ev *model.Event, renderedBody string) error {
	return d.send(ctx, d.reportChat, renderedBody)
}

// SendSingleSourceAlert dispatches a high-authority single-contributor
// event's alert to reportChat.
func (d *Dispatcher) SendSingleSourceAlert(ctx context.Context, ev *model.Event, renderedBody string) error {
	return d.send(ctx, d.reportChat, renderedBody)
}

// SendBatchDigest dispatches a batch-collector summary to summaryChat.
func (d *Dispatcher) SendBatchDigest(ctx context.Context, renderedBody string) error {
	return d.send(ctx, d.summaryChat, renderedBody)
}
