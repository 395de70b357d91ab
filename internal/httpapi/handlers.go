package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lol-party-sync/internal/party"
)

// StateSource is satisfied by *party.Engine.
type StateSource interface {
	State(ctx context.Context) (party.View, error)
}

type selectionJSON struct {
	ChampionID int    `json:"champion_id"`
	SkinID     int    `json:"skin_id"`
	SkinName   string `json:"skin_name,omitempty"`
	ChromaID   *int   `json:"chroma_id,omitempty"`
}

type shareJSON struct {
	FriendID   string    `json:"friend_id"`
	ChampionID int       `json:"champion_id"`
	SkinID     int       `json:"skin_id"`
	SkinName   string    `json:"skin_name,omitempty"`
	ChromaID   *int      `json:"chroma_id,omitempty"`
	SentAt     time.Time `json:"sent_at"`
	ReceivedAt time.Time `json:"received_at"`
}

type sentJSON struct {
	ChampionID int       `json:"champion_id"`
	SentAt     time.Time `json:"sent_at"`
}

type stateJSON struct {
	Active         bool           `json:"active"`
	SessionID      string         `json:"session_id,omitempty"`
	Mode           string         `json:"game_mode,omitempty"`
	Phase          string         `json:"phase"`
	EnteredAt      *time.Time     `json:"entered_at,omitempty"`
	InjectionState string         `json:"injection_state"`
	Injections     int            `json:"injections"`
	Expected       int            `json:"expected"`
	Shared         int            `json:"shared"`
	Local          *selectionJSON `json:"local,omitempty"`
	Shares         []shareJSON    `json:"shares"`
	Sent           []sentJSON     `json:"sent"`
}

func toStateJSON(v party.View) stateJSON {
	out := stateJSON{
		Active:         v.Active,
		SessionID:      v.SessionID,
		Mode:           string(v.Mode),
		Phase:          string(v.Phase),
		InjectionState: v.InjectionState.String(),
		Injections:     v.Fired,
		Expected:       v.Expected,
		Shared:         v.Shared,
		Shares:         make([]shareJSON, 0, len(v.Shares)),
		Sent:           make([]sentJSON, 0, len(v.Sent)),
	}
	if v.Active {
		entered := v.EnteredAt.UTC()
		out.EnteredAt = &entered
	}
	if v.Local != nil {
		out.Local = &selectionJSON{
			ChampionID: v.Local.ChampionID,
			SkinID:     v.Local.SkinID,
			SkinName:   v.Local.SkinName,
			ChromaID:   v.Local.ChromaID,
		}
	}
	for id, e := range v.Shares {
		out.Shares = append(out.Shares, shareJSON{
			FriendID:   id,
			ChampionID: e.Message.ChampionID,
			SkinID:     e.Message.SkinID,
			SkinName:   e.Message.SkinName,
			ChromaID:   e.Message.ChromaID,
			SentAt:     e.Message.SentAt.UTC(),
			ReceivedAt: e.ReceivedAt.UTC(),
		})
	}
	sort.Slice(out.Shares, func(i, j int) bool { return out.Shares[i].FriendID < out.Shares[j].FriendID })
	for _, r := range v.Sent {
		out.Sent = append(out.Sent, sentJSON{ChampionID: r.ChampionID, SentAt: r.SentAt.UTC()})
	}
	return out
}

func State(src StateSource, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		v, err := src.State(ctx)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, party.ErrStopped) || errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusServiceUnavailable
			}
			log.Warn("state unavailable", zap.Error(err))
			http.Error(w, "state unavailable", status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(toStateJSON(v))
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
