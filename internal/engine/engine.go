package engine

import (
	"errors"
	"fmt"
	"time"
)

var ErrMalformedMessage = errors.New("malformed share message")
var ErrStaleMessage = errors.New("stale share message")
var ErrForeignSessionMessage = errors.New("share message from a previous session")
var ErrMissingLocalSelection = errors.New("local selection not known")
var ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

type GameMode string

const (
	ModeNormal    GameMode = "Normal"
	ModeARAM      GameMode = "ARAM"
	ModeSwiftPlay GameMode = "SwiftPlay"
)

// ParseGameMode accepts the names the lobby reports, case-sensitively, plus
// the lowercase forms used in config files.
func ParseGameMode(s string) (GameMode, bool) {
	switch s {
	case "Normal", "normal", "CLASSIC":
		return ModeNormal, true
	case "ARAM", "aram":
		return ModeARAM, true
	case "SwiftPlay", "swiftplay", "SWIFTPLAY":
		return ModeSwiftPlay, true
	default:
		return "", false
	}
}

type PairedFriend struct {
	FriendID     string
	DisplayName  string
	ShareEnabled bool
}

// SkinShareMessage is immutable once received. SentAt is the sender's clock.
type SkinShareMessage struct {
	FromFriendID string
	ChampionID   int
	SkinID       int
	SkinName     string
	ChromaID     *int
	AssetRef     string
	SentAt       time.Time
}

type SessionContext struct {
	SessionID string
	Mode      GameMode
	EnteredAt time.Time
}

type ShareCacheEntry struct {
	FriendID   string
	Message    SkinShareMessage
	ReceivedAt time.Time
}

type SentShareRecord struct {
	ChampionID int
	SentAt     time.Time
}

type LocalSelection struct {
	ChampionID int
	SkinID     int
	SkinName   string
	ChromaID   *int
}

// SameChroma compares the optional chroma ids by value.
func (l LocalSelection) SameChroma(other LocalSelection) bool {
	if l.ChromaID == nil || other.ChromaID == nil {
		return l.ChromaID == nil && other.ChromaID == nil
	}
	return *l.ChromaID == *other.ChromaID
}

// Equal reports whether two selections would produce the same share.
func (l LocalSelection) Equal(other LocalSelection) bool {
	return l.ChampionID == other.ChampionID && l.SkinID == other.SkinID && l.SameChroma(other)
}

type InjectionState int

const (
	StateIdle InjectionState = iota
	StateArmed
	StateTriggered
)

func (s InjectionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateArmed:
		return "Armed"
	case StateTriggered:
		return "Triggered"
	default:
		return "Unknown"
	}
}

// Injection is what the injection collaborator receives when the trigger fires.
type Injection struct {
	SessionID string
	Mode      GameMode
	Local     LocalSelection
	Shares    map[string]ShareCacheEntry
	Reason    string
	FiredAt   time.Time
}

// CheckMessage is the schema check applied before validation.
func CheckMessage(msg SkinShareMessage) error {
	switch {
	case msg.FromFriendID == "":
		return fmt.Errorf("%w: missing sender", ErrMalformedMessage)
	case msg.ChampionID <= 0:
		return fmt.Errorf("%w: missing champion id", ErrMalformedMessage)
	case msg.SkinID < 0:
		return fmt.Errorf("%w: negative skin id", ErrMalformedMessage)
	case msg.SentAt.IsZero():
		return fmt.Errorf("%w: missing sent_at", ErrMalformedMessage)
	}
	return nil
}

// NewSelection builds the outbound share announcing a local selection.
func NewSelection(from string, sel LocalSelection, now time.Time) SkinShareMessage {
	return SkinShareMessage{
		FromFriendID: from,
		ChampionID:   sel.ChampionID,
		SkinID:       sel.SkinID,
		SkinName:     sel.SkinName,
		ChromaID:     sel.ChromaID,
		SentAt:       now,
	}
}
