// Package telegram is the reference transport.Session implementation, built
// on github.com/mymmrac/telego long polling — the same client library and
// connect/poll/stop shape as internal/channels/telegram/channel.go in the
// teacher, narrowed to the read+send contract spec.md §6 actually needs.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/ravidnaor/corrobot/internal/transport"
)

// Session adapts one bot-token identity into transport.Session.
type Session struct {
	bot *telego.Bot

	mu         sync.Mutex
	pollCancel context.CancelFunc
	pollDone   chan struct{}
	lastByChat map[int64]int64 // channel id -> highest message id fetched
}

// New creates a Session from a bot token. Each reader in the Ingest Fan-in
// pool gets its own token (spec.md §4.1: session 0 send-capable, 1..N-1
// read-only).
func New(token string) (*Session, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Session{bot: bot, lastByChat: make(map[int64]int64)}, nil
}

var _ transport.Session = (*Session)(nil)

func (s *Session) Start(ctx context.Context) error {
	slog.Info("transport/telegram: session starting", "username", s.bot.Username())
	return nil
}

func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.pollCancel
	done := s.pollDone
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if done != nil {
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			slog.Warn("transport/telegram: polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func (s *Session) JoinChannel(ctx context.Context, channel string) error {
	// Bot accounts join a channel implicitly once an admin adds them; there
	// is no join-by-username API for bots. This is a deliberate no-op that
	// documents the contract spec.md §4.1 describes for user-account
	// transports, which telego (a Bot API client) cannot itself satisfy.
	return nil
}

func (s *Session) Subscribe(channels []string, handler transport.Handler) error {
	allowed := make(map[string]struct{}, len(channels))
	for _, c := range channels {
		allowed[strings.TrimPrefix(c, "@")] = struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.pollCancel = cancel
	s.pollDone = make(chan struct{})
	done := s.pollDone
	s.mu.Unlock()

	updates, err := s.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message", "channel_post"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				msg := update.Message
				if msg == nil {
					msg = update.ChannelPost
				}
				if msg == nil {
					continue
				}
				uname := ""
				if msg.Chat.Username != "" {
					uname = msg.Chat.Username
				}
				if _, ok := allowed[uname]; !ok {
					continue
				}
				handler(ctx, rawFromTelego(msg))
			}
		}
	}()
	return nil
}

func (s *Session) FetchSince(ctx context.Context, channel string, minID int64, limit int) ([]transport.RawMessage, error) {
	// telego's Bot API surface has no general history-scan endpoint for
	// arbitrary channels (that requires a user-account MTProto client, the
	// user-account Telethon shape original_source/listener.py assumes).
	// The polling scanner therefore degrades to a no-op for this reference
	// adapter: the realtime handler registered via Subscribe is this
	// adapter's sole delivery mode. A user-account transport implementing
	// the same transport.Session interface would fill this in with a real
	// min_id history scan, exactly as spec.md §4.1 describes.
	return nil, nil
}

func (s *Session) SendText(ctx context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	msg := tu.Message(tu.ID(id), text)
	msg.LinkPreviewOptions = &telego.LinkPreviewOptions{IsDisabled: true}
	_, err = s.bot.SendMessage(ctx, msg)
	if err != nil {
		if fw, ok := asFloodWait(err); ok {
			return fw
		}
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func rawFromTelego(m *telego.Message) transport.RawMessage {
	rm := transport.RawMessage{
		ID:           int64(m.MessageID),
		ChatID:       strconv.FormatInt(m.Chat.ID, 10),
		ChatUsername: m.Chat.Username,
		Text:         m.Text,
		Date:         time.Unix(int64(m.Date), 0),
		Outgoing:     false,
		BotOrigin:    m.From != nil && m.From.IsBot,
	}
	if m.Caption != "" && rm.Text == "" {
		rm.Text = m.Caption
	}
	if m.MediaGroupID != "" {
		rm.GroupedID = m.MediaGroupID
	}
	switch {
	case m.Photo != nil && len(m.Photo) > 0:
		rm.MediaID = m.Photo[len(m.Photo)-1].FileID
	case m.Document != nil:
		rm.MediaID = m.Document.FileID
	case m.Video != nil:
		rm.MediaID = m.Video.FileID
	}
	return rm
}

// asFloodWait recognizes telego's 429 "retry after" error shape and
// surfaces it as transport.FloodWaitError.
func asFloodWait(err error) (*transport.FloodWaitError, bool) {
	apiErr, ok := err.(*telego.Error)
	if !ok || apiErr.Parameters == nil || apiErr.Parameters.RetryAfter == 0 {
		return nil, false
	}
	return &transport.FloodWaitError{Seconds: apiErr.Parameters.RetryAfter}, true
}
