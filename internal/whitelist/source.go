package whitelist

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jamestelfer/bearer-gate/internal/jwt"
	"github.com/rs/zerolog"
)

// reloadDelay debounces bursts of file events (editors commonly write,
// truncate and rename in quick succession).
const reloadDelay = 500 * time.Millisecond

// Provider supplies the trust list current at the time of the call.
type Provider interface {
	Entries() []jwt.TrustEntry
}

// Static is a fixed trust list.
type Static []jwt.TrustEntry

func (s Static) Entries() []jwt.TrustEntry {
	return s
}

// Source is a trust list loaded from a YAML file. The list is replaced
// atomically on reload, so readers always see a complete list.
type Source struct {
	path    string
	current atomic.Pointer[[]jwt.TrustEntry]
}

var _ Provider = (*Source)(nil)

// Load reads the trust list at path. The file must exist and be valid.
func Load(ctx context.Context, path string) (*Source, error) {
	s := &Source{path: path}

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// Entries returns the current trust list. The returned slice must not be
// modified.
func (s *Source) Entries() []jwt.TrustEntry {
	entries := s.current.Load()
	if entries == nil {
		return nil
	}
	return *entries
}

// Reload re-reads the file. If the file cannot be read or parsed, the
// previously loaded list stays in effect.
func (s *Source) Reload(ctx context.Context) error {
	entries, err := LoadFromFile(s.path)
	if err != nil {
		return fmt.Errorf("loading whitelist from %s: %w", s.path, err)
	}

	s.current.Store(&entries)

	zerolog.Ctx(ctx).Info().
		Str("path", s.path).
		Int("entries", len(entries)).
		Msg("whitelist loaded")

	return nil
}

// Watch reloads the trust list whenever its file changes, until ctx is
// cancelled. The containing directory is watched so that files replaced by
// rename (as with mounted config maps) are still observed.
func (s *Source) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating whitelist watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching whitelist directory: %w", err)
	}

	reload := make(chan struct{}, 1)
	go s.scheduleReload(ctx, reload)
	go s.handleWatcher(ctx, watcher, reload)

	return nil
}

func (s *Source) handleWatcher(ctx context.Context, watcher *fsnotify.Watcher, reload chan<- struct{}) {
	defer watcher.Close()

	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write | fsnotify.Remove | fsnotify.Create | fsnotify.Rename) {
				select {
				case reload <- struct{}{}:
				default:
					// a reload is already pending
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			zerolog.Ctx(ctx).Warn().Err(err).Str("path", s.path).Msg("whitelist watcher error")
		}
	}
}

func (s *Source) scheduleReload(ctx context.Context, reload <-chan struct{}) {
	var timer *time.Timer
	var c <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case <-reload:
			if timer != nil {
				resetTimer(timer, reloadDelay)
			} else {
				timer = time.NewTimer(reloadDelay)
				c = timer.C
			}

		case <-c:
			c = nil
			timer = nil

			if err := s.Reload(ctx); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("whitelist reload failed, keeping previous entries")
			}
		}
	}
}

// resetTimer restarts the timer, discarding a tick that fired but was not yet
// received so the full delay elapses before the next one.
func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
