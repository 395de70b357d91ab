// Package inject hands triggered injections to the overlay patcher by
// writing a JSON manifest the patcher watches.
package inject

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lol-party-sync/internal/engine"
)

type skinJSON struct {
	ChampionID int    `json:"champion_id"`
	SkinID     int    `json:"skin_id"`
	SkinName   string `json:"skin_name,omitempty"`
	ChromaID   *int   `json:"chroma_id,omitempty"`
	AssetRef   string `json:"asset_ref,omitempty"`
}

type friendJSON struct {
	FriendID string `json:"friend_id"`
	skinJSON
	SentAt time.Time `json:"sent_at"`
}

type Manifest struct {
	SessionID string       `json:"session_id"`
	GameMode  string       `json:"game_mode"`
	Reason    string       `json:"reason"`
	FiredAt   time.Time    `json:"fired_at"`
	Local     skinJSON     `json:"local"`
	Friends   []friendJSON `json:"friends"`
}

// BuildManifest lays out inj with friends ordered by id.
func BuildManifest(inj engine.Injection) Manifest {
	m := Manifest{
		SessionID: inj.SessionID,
		GameMode:  string(inj.Mode),
		Reason:    inj.Reason,
		FiredAt:   inj.FiredAt.UTC(),
		Local: skinJSON{
			ChampionID: inj.Local.ChampionID,
			SkinID:     inj.Local.SkinID,
			SkinName:   inj.Local.SkinName,
			ChromaID:   inj.Local.ChromaID,
		},
		Friends: make([]friendJSON, 0, len(inj.Shares)),
	}
	for id, e := range inj.Shares {
		m.Friends = append(m.Friends, friendJSON{
			FriendID: id,
			skinJSON: skinJSON{
				ChampionID: e.Message.ChampionID,
				SkinID:     e.Message.SkinID,
				SkinName:   e.Message.SkinName,
				ChromaID:   e.Message.ChromaID,
				AssetRef:   e.Message.AssetRef,
			},
			SentAt: e.Message.SentAt.UTC(),
		})
	}
	sort.Slice(m.Friends, func(i, j int) bool { return m.Friends[i].FriendID < m.Friends[j].FriendID })
	return m
}

// ManifestWriter is an idempotent injector: applying the same selections
// twice leaves the file untouched.
type ManifestWriter struct {
	path string
	log  *zap.Logger

	mu   sync.Mutex
	last []byte
}

func NewManifestWriter(path string, log *zap.Logger) *ManifestWriter {
	return &ManifestWriter{path: path, log: log.Named("inject")}
}

func (w *ManifestWriter) Apply(ctx context.Context, inj engine.Injection) error {
	m := BuildManifest(inj)

	key, err := contentKey(m)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if bytes.Equal(key, w.last) {
		w.log.Debug("manifest unchanged", zap.String("session_id", m.SessionID))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeAtomic(w.path, body); err != nil {
		return err
	}
	w.last = key

	w.log.Info("manifest written",
		zap.String("path", w.path),
		zap.String("session_id", m.SessionID),
		zap.Int("friends", len(m.Friends)))
	return nil
}

// contentKey ignores when and why the trigger fired.
func contentKey(m Manifest) ([]byte, error) {
	m.FiredAt = time.Time{}
	m.Reason = ""
	key, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return key, nil
}

func writeAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}
