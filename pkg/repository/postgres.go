package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/game"
)

const createSnapshotsTable = `
CREATE TABLE IF NOT EXISTS match_snapshots (
	match_id   TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	version    BIGINT NOT NULL,
	snapshot   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertSnapshot = `
INSERT INTO match_snapshots (match_id, status, version, snapshot, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (match_id) DO UPDATE
SET status = EXCLUDED.status,
    version = EXCLUDED.version,
    snapshot = EXCLUDED.snapshot,
    updated_at = now()
WHERE match_snapshots.version <= EXCLUDED.version`

const selectSnapshot = `SELECT snapshot FROM match_snapshots WHERE match_id = $1`

const selectLive = `SELECT match_id FROM match_snapshots WHERE status <> $1 ORDER BY match_id`

// PostgresStore keeps one JSONB snapshot row per match
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects to PostgreSQL and makes sure the snapshot table exists
func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, createSnapshotsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create snapshot table: %w", err)
	}

	logger.Info("postgres snapshot store ready")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Save upserts the snapshot row, keeping the newest version
func (s *PostgresStore) Save(ctx context.Context, snap game.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tag, err := s.pool.Exec(ctx, upsertSnapshot, snap.MatchID, string(snap.Status), snap.Version, string(data))
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.MatchID, err)
	}

	if tag.RowsAffected() == 0 {
		s.logger.Debug("skipping stale snapshot",
			zap.String("match_id", snap.MatchID),
			zap.Int64("version", snap.Version))
	}

	return nil
}

// Load reads the stored snapshot of a match
func (s *PostgresStore) Load(ctx context.Context, matchID string) (game.Snapshot, error) {
	var data []byte
	if err := s.pool.QueryRow(ctx, selectSnapshot, matchID).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.Snapshot{}, ErrNotFound
		}
		return game.Snapshot{}, fmt.Errorf("load snapshot %s: %w", matchID, err)
	}

	var snap game.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return game.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", matchID, err)
	}

	return snap, nil
}

// ListLive returns the IDs of all matches that have not completed
func (s *PostgresStore) ListLive(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, selectLive, string(game.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("list live matches: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan live matches: %w", err)
	}

	return ids, nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}
