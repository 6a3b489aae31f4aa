// Package models defines the records shared by storage, the recall engine and the CLI.
package models

import (
	"time"

	"github.com/hyperjump/abio/internal/history"
)

// Session groups the turns of one conversation.
type Session struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Memory is a remembered piece of a turn. Long turns are split into several
// memories that share SessionID and TurnID and differ by Chunk.
type Memory struct {
	ID        string `json:"id" db:"id"`
	SessionID string `json:"session_id" db:"session_id"`
	TurnID    string `json:"turn_id" db:"turn_id"`
	Chunk     int    `json:"chunk" db:"chunk"`
	history.Turn
}

// StoredTurn is a turn as persisted in the session log.
type StoredTurn struct {
	ID        string `json:"id" db:"id"`
	SessionID string `json:"session_id" db:"session_id"`
	Seq       int64  `json:"seq" db:"seq"`
	history.Turn
}
