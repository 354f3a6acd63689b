package models

import "time"

type User struct {
	ID              string    `db:"id" json:"id"`
	Email           *string   `db:"email" json:"email,omitempty"` // Encrypted in DB
	EmailBlindIndex *string   `db:"email_blind_index" json:"-"`   // HMAC hash for searching
	PasswordHash    *string   `db:"password_hash" json:"-"`
	DisplayName     *string   `db:"display_name" json:"display_name,omitempty"`
	IsAnonymous     bool      `db:"is_anonymous" json:"is_anonymous"`
	IsAdmin         bool      `db:"is_admin" json:"is_admin"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
