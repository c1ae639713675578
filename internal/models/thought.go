package models

import "time"

type Thought struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// NewThought stamps a thought created at now that lives for lifetime.
func NewThought(id, text string, now time.Time, lifetime time.Duration) Thought {
	return Thought{
		ID:        id,
		Text:      text,
		ExpiresAt: now.Add(lifetime),
		CreatedAt: now,
	}
}

// IsExpired reports whether the expiry instant has been reached at now.
func (t Thought) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
