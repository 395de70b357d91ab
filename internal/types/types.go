// Package types is the JSON wire format spoken by the transports.
//
//	{"type":"SkinShare","from":"friend-1","champion_id":64,"skin_id":12,
//	 "skin_name":"Blind Monk","chroma_id":64013,"asset_ref":"...","sent_at":1700000000000}
//
// sent_at is Unix milliseconds on the sender's clock.
package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/DoyleJ11/lol-party-sync/internal/engine"
)

const TypeSkinShare = "SkinShare"

type ShareMessage struct {
	Type       string `json:"type"`
	From       string `json:"from"`
	ChampionID int    `json:"champion_id"`
	SkinID     int    `json:"skin_id"`
	SkinName   string `json:"skin_name,omitempty"`
	ChromaID   *int   `json:"chroma_id,omitempty"`
	AssetRef   string `json:"asset_ref,omitempty"`
	SentAt     int64  `json:"sent_at"`
}

// Decode parses one payload. Every failure wraps engine.ErrMalformedMessage.
func Decode(data []byte) (engine.SkinShareMessage, error) {
	var m ShareMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return engine.SkinShareMessage{}, fmt.Errorf("%w: %v", engine.ErrMalformedMessage, err)
	}
	if m.Type != TypeSkinShare {
		return engine.SkinShareMessage{}, fmt.Errorf("%w: unknown type %q", engine.ErrMalformedMessage, m.Type)
	}
	if m.SentAt <= 0 {
		return engine.SkinShareMessage{}, fmt.Errorf("%w: missing sent_at", engine.ErrMalformedMessage)
	}

	msg := engine.SkinShareMessage{
		FromFriendID: m.From,
		ChampionID:   m.ChampionID,
		SkinID:       m.SkinID,
		SkinName:     m.SkinName,
		ChromaID:     m.ChromaID,
		AssetRef:     m.AssetRef,
		SentAt:       time.UnixMilli(m.SentAt).UTC(),
	}
	if err := engine.CheckMessage(msg); err != nil {
		return engine.SkinShareMessage{}, err
	}
	return msg, nil
}

func Encode(msg engine.SkinShareMessage) ([]byte, error) {
	return json.Marshal(ShareMessage{
		Type:       TypeSkinShare,
		From:       msg.FromFriendID,
		ChampionID: msg.ChampionID,
		SkinID:     msg.SkinID,
		SkinName:   msg.SkinName,
		ChromaID:   msg.ChromaID,
		AssetRef:   msg.AssetRef,
		SentAt:     msg.SentAt.UnixMilli(),
	})
}
