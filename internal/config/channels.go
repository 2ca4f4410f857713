package config

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ChannelList loads one newline-delimited channel-list file (comments
// starting with '#' and blank lines skipped) and watches it for edits,
// grounded on the teacher's config_channels.go load-then-watch shape.
type ChannelList struct {
	path string

	mu   sync.RWMutex
	list []string
}

// LoadChannelList reads path once. A missing file yields an empty list
// rather than an error, so a deployment that only uses one of the two
// channel classes doesn't need a placeholder file.
func LoadChannelList(path string) (*ChannelList, error) {
	cl := &ChannelList{path: path}
	if err := cl.reload(); err != nil {
		return nil, err
	}
	return cl, nil
}

func (cl *ChannelList) reload() error {
	f, err := os.Open(cl.path)
	if err != nil {
		if os.IsNotExist(err) {
			cl.mu.Lock()
			cl.list = nil
			cl.mu.Unlock()
			return nil
		}
		return err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, strings.TrimPrefix(line, "@"))
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	cl.mu.Lock()
	cl.list = out
	cl.mu.Unlock()
	return nil
}

// Channels returns a snapshot of the current list.
func (cl *ChannelList) Channels() []string {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	out := make([]string, len(cl.list))
	copy(out, cl.list)
	return out
}

// Watch hot-reloads the list on every write/create event to path until ctx
// is cancelled, using fsnotify the same way the teacher watches its config
// file.
func (cl *ChannelList) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := "."
	if idx := strings.LastIndex(cl.path, "/"); idx >= 0 {
		dir = cl.path[:idx]
	}
	if err := watcher.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != cl.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := cl.reload(); err != nil {
				slog.Error("config: channel list reload failed", "path", cl.path, "error", err)
				continue
			}
			slog.Info("config: channel list reloaded", "path", cl.path, "count", len(cl.Channels()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: channel list watcher error", "error", err)
		}
	}
}
