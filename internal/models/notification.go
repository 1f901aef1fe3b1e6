package models

import "time"

// Notification is one entry in a user's mailbox, written by workflow
// transitions as a side effect and mutated only by the bulk mark-read
// operation scoped to the owning user.
type Notification struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Message   string    `db:"message" json:"message"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
