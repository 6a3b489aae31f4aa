// Package storage defines the persistence interface for sessions and their turns.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/abio/internal/history"
	"github.com/hyperjump/abio/internal/models"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines session and turn persistence operations.
type Storage interface {
	// Session operations
	CreateSession(ctx context.Context, name string) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]*models.Session, error)
	DeleteSession(ctx context.Context, id string) error

	// Turn operations
	AppendTurns(ctx context.Context, sessionID string, turns []history.Turn) ([]*models.StoredTurn, error)
	// ListTurns returns the newest limit turns of a session in chronological order; limit <= 0 means all.
	ListTurns(ctx context.Context, sessionID string, limit int) ([]*models.StoredTurn, error)
	ListAllTurns(ctx context.Context) ([]*models.StoredTurn, error)

	// Stats
	CountSessions(ctx context.Context) (int64, error)
	CountTurns(ctx context.Context) (int64, error)

	Close() error
}
