// Package lobbyclient reads the lobby state from the local game client.
package lobbyclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/DoyleJ11/lol-party-sync/internal/engine"
	"github.com/DoyleJ11/lol-party-sync/internal/party"
)

type selectionJSON struct {
	ChampionID int    `json:"champion_id"`
	SkinID     int    `json:"skin_id"`
	SkinName   string `json:"skin_name,omitempty"`
	ChromaID   *int   `json:"chroma_id,omitempty"`
}

type stateJSON struct {
	Phase            string         `json:"phase"`
	GameMode         string         `json:"game_mode"`
	LocalSelection   *selectionJSON `json:"local_selection"`
	PresentFriendIDs []string       `json:"present_friend_ids"`
}

type Client struct {
	baseURL string
	path    string
	client  *http.Client
	headers map[string]string
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		path:    "/lobby/state",
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
		headers: make(map[string]string),
	}
}

func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *Client) SetPath(path string) {
	c.path = path
}

// Fetch reads one lobby state. A champion id of zero means nothing is
// selected yet.
func (c *Client) Fetch(ctx context.Context) (party.LobbyState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.path, nil)
	if err != nil {
		return party.LobbyState{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return party.LobbyState{}, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return party.LobbyState{}, fmt.Errorf("lobby endpoint returned status code: %d, response: %s", resp.StatusCode, string(body))
	}

	var raw stateJSON
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return party.LobbyState{}, fmt.Errorf("failed to decode lobby state: %w", err)
	}
	return toLobbyState(raw), nil
}

func toLobbyState(raw stateJSON) party.LobbyState {
	st := party.LobbyState{
		Phase:            party.Phase(raw.Phase),
		PresentFriendIDs: raw.PresentFriendIDs,
	}
	if mode, ok := engine.ParseGameMode(raw.GameMode); ok {
		st.Mode = mode
	}
	if s := raw.LocalSelection; s != nil && s.ChampionID > 0 {
		st.Local = &engine.LocalSelection{
			ChampionID: s.ChampionID,
			SkinID:     s.SkinID,
			SkinName:   s.SkinName,
			ChromaID:   s.ChromaID,
		}
	}
	return st
}
