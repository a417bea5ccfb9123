// Package repository persists match snapshots
package repository

import (
	"context"
	"errors"

	"github.com/tecu23/match-server/pkg/game"
)

// ErrNotFound is returned by Load when no snapshot exists for a match
var ErrNotFound = errors.New("snapshot not found")

// GameStore is the only contract the engine has with persistence.
//
// Save must not overwrite a stored snapshot with a lower version, so that
// out-of-order retries never roll a match back.
type GameStore interface {
	Load(ctx context.Context, matchID string) (game.Snapshot, error)
	Save(ctx context.Context, snap game.Snapshot) error
}

// LiveLister is implemented by stores that can enumerate non-terminal matches
// for crash recovery
type LiveLister interface {
	ListLive(ctx context.Context) ([]string, error)
}
