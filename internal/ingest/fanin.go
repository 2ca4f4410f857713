// Package ingest implements Ingest Fan-in (C5): the pool of concurrent
// session readers, channel partitioning, dual realtime+polling delivery,
// filtering/normalization, and handoff to the Pipeline.
//
// Grounded on original_source/listener.py (init_listeners, _split, _scanner,
// _collect_album) and the cancellation-aware polling shape of
// internal/channels/telegram/channel.go.
package ingest

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ravidnaor/corrobot/internal/clock"
	"github.com/ravidnaor/corrobot/internal/model"
	"github.com/ravidnaor/corrobot/internal/textnorm"
	"github.com/ravidnaor/corrobot/internal/transport"
)

// Sink is the Pipeline's Process method, named narrowly here so tests can
// fake it without constructing a full pipeline.Pipeline.
type Sink interface {
	Process(ctx context.Context, msg model.Message) error
}

// Config tunes the fan-in's filtering and scanning behavior.
type Config struct {
	BlockPhrases   []string
	ScanBatchLimit int
	RequestSpacing time.Duration // spacing between per-channel poll requests
	RoundGap       time.Duration // pause between full scanner rounds
	DedupCacheSize int

	SmartOutputChat string // chat id smart-class messages are mirrored to
	PermalinkHost   string
}

func DefaultConfig() Config {
	return Config{
		ScanBatchLimit: 100,
		RequestSpacing: 3 * time.Second,
		RoundGap:       300 * time.Second,
		DedupCacheSize: 500,
		PermalinkHost:  "t.me",
	}
}

// FanIn owns the session pool and channel partitioning.
type FanIn struct {
	cfg      Config
	sessions []transport.Session
	clock    clock.Clock
	sink     Sink

	startedAt time.Time

	mu          sync.Mutex
	dedup       map[string]struct{}
	dedupOrder  []string
	seenGroups  map[string]struct{}
}

// New constructs a FanIn over the given sessions (index 0 is send-capable).
func New(cfg Config, sessions []transport.Session, clk clock.Clock, sink Sink) *FanIn {
	return &FanIn{
		cfg:        cfg,
		sessions:   sessions,
		clock:      clk,
		sink:       sink,
		startedAt:  clk.Now(),
		dedup:      make(map[string]struct{}),
		seenGroups: make(map[string]struct{}),
	}
}

// split partitions channels round-robin across n sessions, mirroring
// original_source/listener.py's `_split`.
func split(channels []string, n int) [][]string {
	out := make([][]string, n)
	for i, ch := range channels {
		out[i%n] = append(out[i%n], ch)
	}
	return out
}

// Run starts every session's realtime subscription and polling scanner, and
// blocks until ctx is cancelled or a session fails to start. A failure in
// one session's steady-state scanning never takes down the others — only
// startup errors propagate.
func (f *FanIn) Run(ctx context.Context, arabChannels, smartChannels []string) error {
	n := len(f.sessions)
	if n == 0 {
		return nil
	}
	arabChunks := split(arabChannels, n)
	smartChunks := split(smartChannels, n)

	g, gctx := errgroup.WithContext(ctx)
	for i, sess := range f.sessions {
		i, sess := i, sess
		mine := append(append([]string{}, arabChunks[i]...), smartChunks[i]...)
		arabSet := toSet(arabChunks[i])

		if err := sess.Start(gctx); err != nil {
			return err
		}
		for _, ch := range mine {
			if err := sess.JoinChannel(gctx, ch); err != nil {
				slog.Warn("ingest: join channel failed", "channel", ch, "error", err)
			}
		}

		handler := func(ctx context.Context, raw transport.RawMessage) {
			_, isArab := arabSet[strings.TrimPrefix(raw.ChatUsername, "@")]
			class := model.ClassSmart
			if isArab {
				class = model.ClassSource
			}
			f.handle(ctx, raw, class)
		}
		if len(mine) > 0 {
			if err := sess.Subscribe(mine, handler); err != nil {
				return err
			}
		}

		g.Go(func() error {
			f.scan(gctx, sess, arabChunks[i], model.ClassSource)
			return nil
		})
		g.Go(func() error {
			f.scan(gctx, sess, smartChunks[i], model.ClassSmart)
			return nil
		})
	}
	return g.Wait()
}

// scan is the polling scanner: per channel, remember the highest message id
// seen and fetch newer messages ascending, capped at ScanBatchLimit. Flood
// waits suspend only this session; unexpected errors log and back off 5s,
// never crashing the process.
func (f *FanIn) scan(ctx context.Context, sess transport.Session, channels []string, class model.ChannelClass) {
	if len(channels) == 0 {
		return
	}
	lastSeen := make(map[string]int64)
	for {
		for _, ch := range channels {
			msgs, err := sess.FetchSince(ctx, ch, lastSeen[ch], f.cfg.ScanBatchLimit)
			if err != nil {
				if fw, ok := transport.AsFloodWait(err); ok {
					if slErr := f.clock.Sleep(ctx, time.Duration(fw.Seconds)*time.Second); slErr != nil {
						return
					}
					continue
				}
				slog.Error("ingest: scan error", "channel", ch, "error", err)
				if slErr := f.clock.Sleep(ctx, 5*time.Second); slErr != nil {
					return
				}
				continue
			}
			for _, m := range msgs {
				if m.ID > lastSeen[ch] {
					lastSeen[ch] = m.ID
				}
				f.handle(ctx, m, class)
			}
			if slErr := f.clock.Sleep(ctx, f.cfg.RequestSpacing); slErr != nil {
				return
			}
		}
		if slErr := f.clock.Sleep(ctx, f.cfg.RoundGap); slErr != nil {
			return
		}
	}
}

// handle applies filtering/normalization identically for both delivery
// modes and hands the result to the Pipeline.
func (f *FanIn) handle(ctx context.Context, raw transport.RawMessage, class model.ChannelClass) {
	if raw.Outgoing || raw.BotOrigin {
		return
	}
	if raw.Date.Before(f.startedAt) {
		return
	}
	if raw.GroupedID != "" && !f.firstInGroup(raw.GroupedID) {
		return // album coalescing: only the first message of a media group is kept
	}

	text := textnorm.Normalize(raw.Text)
	if text == "" && raw.MediaID == "" {
		return
	}
	if f.blocked(text) {
		return
	}
	if f.shortTermDup(text) {
		return
	}

	msg := model.Message{
		Text:        text,
		Channel:     strings.TrimPrefix(raw.ChatUsername, "@"),
		Class:       class,
		Permalink:   raw.Permalink(f.cfg.PermalinkHost),
		MediaID:     raw.MediaID,
		ReceivedAt:  raw.Date,
		SourceMsgID: raw.ID,
	}

	if class == model.ClassSmart && f.cfg.SmartOutputChat != "" && len(f.sessions) > 0 {
		mirrored := msg.Text
		if msg.Permalink != "" {
			mirrored += "\n\n" + msg.Permalink
		}
		if err := f.sessions[0].SendText(ctx, f.cfg.SmartOutputChat, mirrored); err != nil {
			slog.Error("ingest: smart mirror send failed", "error", err)
		}
	}

	if err := f.sink.Process(ctx, msg); err != nil {
		slog.Error("ingest: pipeline process failed", "channel", msg.Channel, "error", err)
	}
}

func (f *FanIn) firstInGroup(groupID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seenGroups[groupID]; ok {
		return false
	}
	f.seenGroups[groupID] = struct{}{}
	return true
}

func (f *FanIn) blocked(text string) bool {
	for _, p := range f.cfg.BlockPhrases {
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func (f *FanIn) shortTermDup(text string) bool {
	key := textnorm.DedupKey(text)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.dedup[key]; ok {
		return true
	}
	f.dedup[key] = struct{}{}
	f.dedupOrder = append(f.dedupOrder, key)
	cap := f.cfg.DedupCacheSize
	if cap <= 0 {
		cap = 500
	}
	if len(f.dedupOrder) > cap {
		oldest := f.dedupOrder[0]
		f.dedupOrder = f.dedupOrder[1:]
		delete(f.dedup, oldest)
	}
	return false
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[strings.TrimPrefix(it, "@")] = struct{}{}
	}
	return out
}
