package storage

// keeper.go: resumen ligero por ciclo del keeper. Siempre 1 fila por ciclo,
// se purga a los 30 días.

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/cdpusd/internal/domain"
)

const keeperSchema = `
CREATE TABLE IF NOT EXISTS keeper_runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    started_ms  INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    positions   INTEGER NOT NULL DEFAULT 0,
    healthy     INTEGER NOT NULL DEFAULT 0,
    rebalanced  INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_keeper_runs_at ON keeper_runs(started_ms DESC);
`

const retentionKeeperRuns = 30 * 24 * time.Hour

// KeeperRun es la fila persistida de un ciclo.
type KeeperRun struct {
	StartedAt  time.Time
	Duration   time.Duration
	Positions  int
	Healthy    int
	Rebalanced int
	Failed     int
}

// Notify implementa ports.Notifier: guarda el resumen del ciclo.
func (s *SQLiteStorage) Notify(ctx context.Context, r domain.KeeperReport) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO keeper_runs (started_ms, duration_ms, positions, healthy, rebalanced, failed)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		r.StartedAt.UnixMilli(),
		r.Duration.Milliseconds(),
		len(r.Entries),
		r.Count(domain.KeeperHealthy),
		r.Count(domain.KeeperRebalanced),
		r.Count(domain.KeeperFailed),
	); err != nil {
		return fmt.Errorf("storage.Notify: insert keeper run: %w", err)
	}
	return nil
}

// KeeperRuns devuelve los últimos n ciclos, el más reciente primero.
func (s *SQLiteStorage) KeeperRuns(ctx context.Context, n int) ([]KeeperRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT started_ms, duration_ms, positions, healthy, rebalanced, failed
		FROM keeper_runs
		ORDER BY started_ms DESC, id DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("storage.KeeperRuns: query: %w", err)
	}
	defer rows.Close()

	var out []KeeperRun
	for rows.Next() {
		var r KeeperRun
		var startedMs, durationMs int64
		if err := rows.Scan(&startedMs, &durationMs, &r.Positions, &r.Healthy, &r.Rebalanced, &r.Failed); err != nil {
			return nil, fmt.Errorf("storage.KeeperRuns: scan row: %w", err)
		}
		r.StartedAt = time.UnixMilli(startedMs).UTC()
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// pruneOld elimina ciclos antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionKeeperRuns).UnixMilli()
	s.db.ExecContext(ctx, `DELETE FROM keeper_runs WHERE started_ms < ?`, cutoff)
}
