// Package transport defines the external chat-transport collaborator
// contract from spec.md §6. Its implementation (transport/telegram) is a
// swappable reference adapter, not part of the pipeline core.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RawMessage is the per-message shape spec.md §6 requires from the transport.
type RawMessage struct {
	ID           int64
	ChatID       string
	ChatUsername string // empty if the chat has no public username
	Text         string
	Date         time.Time
	MediaID      string // empty if no media
	GroupedID    string // album/media-group identifier, empty if none
	Outgoing     bool
	BotOrigin    bool
}

// Permalink builds the https://<host>/<chat-username>/<id> form, or "" if
// the chat has no username.
func (m RawMessage) Permalink(host string) string {
	if m.ChatUsername == "" {
		return ""
	}
	return fmt.Sprintf("https://%s/%s/%d", host, m.ChatUsername, m.ID)
}

// FloodWaitError signals a rate-limit back-off request from the transport.
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: %d seconds", e.Seconds)
}

// AsFloodWait unwraps err into a *FloodWaitError if that's what it is.
func AsFloodWait(err error) (*FloodWaitError, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw, true
	}
	return nil, false
}

// Handler receives realtime messages as they arrive.
type Handler func(context.Context, RawMessage)

// Session is one reader (session 0 is also send-capable) in the Ingest
// Fan-in's pool. A single process hosts N sessions, each watching a
// disjoint partition of the configured channel lists.
type Session interface {
	// Start connects the session. Blocking realtime delivery, if any, must
	// run on its own goroutine; Start itself should return once connected.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// JoinChannel ensures the session is a member of channel, respecting
	// flood-wait back-off signals.
	JoinChannel(ctx context.Context, channel string) error

	// Subscribe registers handler for realtime new-message events on channels.
	Subscribe(channels []string, handler Handler) error

	// FetchSince polls channel for messages with id > minID, ascending,
	// capped at limit — the polling-scanner delivery mode.
	FetchSince(ctx context.Context, channel string, minID int64, limit int) ([]RawMessage, error)

	// SendText sends text to chatID. Only session 0 (the send-capable
	// identity) is expected to be asked to do this.
	SendText(ctx context.Context, chatID, text string) error
}
