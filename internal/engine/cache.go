package engine

// ShareCache holds the latest validated share per friend for one session.
// It is not safe for concurrent use; the party loop owns it.
type ShareCache struct {
	sessionID string
	entries   map[string]ShareCacheEntry
}

// RecordResult describes what Record did with an entry.
type RecordResult struct {
	Stored bool
	// ChampionChanged is set when a stored entry replaced one for a different champion.
	ChampionChanged bool
}

func NewShareCache(sessionID string) *ShareCache {
	return &ShareCache{
		sessionID: sessionID,
		entries:   make(map[string]ShareCacheEntry),
	}
}

func (c *ShareCache) SessionID() string { return c.sessionID }

// Record stores e unless the cache already holds a message for the same
// friend sent at or after e's sent_at.
func (c *ShareCache) Record(e ShareCacheEntry) RecordResult {
	prev, ok := c.entries[e.FriendID]
	if ok && !e.Message.SentAt.After(prev.Message.SentAt) {
		return RecordResult{}
	}

	c.entries[e.FriendID] = e
	return RecordResult{
		Stored:          true,
		ChampionChanged: ok && prev.Message.ChampionID != e.Message.ChampionID,
	}
}

func (c *ShareCache) Get(friendID string) (ShareCacheEntry, bool) {
	e, ok := c.entries[friendID]
	return e, ok
}

// All returns a copy of every entry.
func (c *ShareCache) All() map[string]ShareCacheEntry {
	out := make(map[string]ShareCacheEntry, len(c.entries))
	for id, e := range c.entries {
		out[id] = e
	}
	return out
}

func (c *ShareCache) Len() int { return len(c.entries) }

// CountShared counts entries whose friend is in expected.
func (c *ShareCache) CountShared(expected map[string]struct{}) int {
	n := 0
	for id := range c.entries {
		if _, ok := expected[id]; ok {
			n++
		}
	}
	return n
}

// Reset drops every entry and rebinds the cache to sessionID.
func (c *ShareCache) Reset(sessionID string) {
	c.sessionID = sessionID
	clear(c.entries)
}
