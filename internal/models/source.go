package models

import "time"

// Source is a channel tracked by a user on one platform
type Source struct {
	ID          string    `json:"id"`
	UserID      string    `json:"-"`
	Platform    Platform  `json:"platform"`
	Handle      string    `json:"handle"`
	DisplayName *string   `json:"display_name"`
	URL         *string   `json:"url"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
}

// UpsertSourceParams holds the fields accepted by a source upsert
type UpsertSourceParams struct {
	ID          string
	Platform    Platform
	Handle      string
	DisplayName *string
	URL         *string
	Enabled     bool
}

// UpsertAction reports whether an upsert created or replaced a row
type UpsertAction string

const (
	UpsertInsert UpsertAction = "insert"
	UpsertUpdate UpsertAction = "update"
)
