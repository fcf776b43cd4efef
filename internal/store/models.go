package store

import "time"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// BotSummary is what bot listings return: the display name plus the
// generated persona line (may be empty).
type BotSummary struct {
	Name    string `json:"name"`
	Persona string `json:"persona"`
}

type TurnStatus string

const (
	// TurnPending marks a turn whose user message is recorded but whose
	// reply has not been generated yet. At most one turn per (user, bot)
	// history may be pending, and it is always the last one.
	TurnPending  TurnStatus = "pending"
	TurnComplete TurnStatus = "complete"
)

// Turn is one user-message/bot-reply pair. Histories are append-only
// ordered sequences of turns, persisted wholesale after every mutation.
type Turn struct {
	User      string     `json:"user"`
	Bot       string     `json:"bot"`
	Timestamp string     `json:"ts"`
	Status    TurnStatus `json:"status,omitempty"`
}

// Normalize fills in a missing status from the reply text, so histories
// written before the status field existed still decode correctly.
func (t *Turn) Normalize() {
	if t.Status == "" {
		if t.Bot == "" {
			t.Status = TurnPending
		} else {
			t.Status = TurnComplete
		}
	}
}
