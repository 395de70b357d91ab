// Package pairing serves the paired-friends roster from a YAML file kept
// up to date by the pairing handshake. The file is reloaded when it changes.
//
//	friends:
//	  - id: friend-1
//	    name: Alice
//	    share: true
package pairing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/DoyleJ11/lol-party-sync/internal/engine"
)

const reloadDebounce = 300 * time.Millisecond

type friendYAML struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Share *bool  `yaml:"share"`
}

type fileYAML struct {
	Friends []friendYAML `yaml:"friends"`
}

// Load parses a roster file. Sharing defaults to enabled.
func Load(path string) ([]engine.PairedFriend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file: %w", err)
	}

	var f fileYAML
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}

	friends := make([]engine.PairedFriend, 0, len(f.Friends))
	seen := make(map[string]bool, len(f.Friends))
	for i, fr := range f.Friends {
		if fr.ID == "" {
			return nil, fmt.Errorf("roster entry %d has no id", i)
		}
		if seen[fr.ID] {
			return nil, fmt.Errorf("roster lists %q twice", fr.ID)
		}
		seen[fr.ID] = true
		friends = append(friends, engine.PairedFriend{
			FriendID:     fr.ID,
			DisplayName:  fr.Name,
			ShareEnabled: fr.Share == nil || *fr.Share,
		})
	}
	return friends, nil
}

type Roster struct {
	path string
	log  *zap.Logger

	mu      sync.RWMutex
	friends []engine.PairedFriend
}

func NewRoster(path string, log *zap.Logger) (*Roster, error) {
	r := &Roster{path: path, log: log.Named("pairing")}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Static is a roster that never reloads.
func Static(friends []engine.PairedFriend) *Roster {
	return &Roster{friends: friends, log: zap.NewNop()}
}

func (r *Roster) Friends() []engine.PairedFriend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]engine.PairedFriend, len(r.friends))
	copy(out, r.friends)
	return out
}

// Reload re-reads the file. On error the previous roster stays in place.
func (r *Roster) Reload() error {
	friends, err := Load(r.path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.friends = friends
	r.mu.Unlock()

	r.log.Info("roster loaded", zap.String("path", r.path), zap.Int("friends", len(friends)))
	return nil
}

// Watch reloads the roster whenever the file is written or replaced, until
// ctx is done. The directory is watched so atomic renames are seen.
func (r *Roster) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watch %s: %w", r.path, err)
	}

	target := filepath.Clean(r.path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset timer on each change
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := r.Reload(); err != nil {
					r.log.Warn("roster reload failed", zap.Error(err))
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("roster watcher error", zap.Error(err))
		}
	}
}
