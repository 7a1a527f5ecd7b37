package storage

// events.go: journal de eventos del engine.
//
// Una fila por evento, clave = UUID del evento. Publicar dos veces el mismo
// evento no duplica (INSERT OR IGNORE). Solo se rellenan las columnas del
// tipo de evento; el resto queda NULL.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const eventSchema = `
CREATE TABLE IF NOT EXISTS events (
    id               TEXT PRIMARY KEY,  -- uuid
    kind             TEXT NOT NULL,
    account          TEXT NOT NULL,
    amount           TEXT,
    refund           TEXT,
    fee              TEXT,
    collateral_spent TEXT,
    debt_repaid      TEXT,
    excess           TEXT,
    at_ms            INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_account ON events(account, at_ms);
`

// Publish implementa ports.EventSink.
func (s *SQLiteStorage) Publish(ctx context.Context, ev domain.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events
			(id, kind, account, amount, refund, fee, collateral_spent, debt_repaid, excess, at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID.String(),
		string(ev.Kind),
		ev.Account.Hex(),
		encodeAmount(ev.Amount),
		encodeAmount(ev.Refund),
		encodeAmount(ev.Fee),
		encodeAmount(ev.CollateralSpent),
		encodeAmount(ev.DebtRepaid),
		encodeAmount(ev.Excess),
		ev.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("storage.Publish: insert %s: %w", ev.ID, err)
	}
	return nil
}

// Events devuelve el historial de una cuenta en orden cronológico.
func (s *SQLiteStorage) Events(ctx context.Context, account common.Address) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, account, amount, refund, fee, collateral_spent, debt_repaid, excess, at_ms
		FROM events
		WHERE account = ?
		ORDER BY at_ms, rowid
	`, account.Hex())
	if err != nil {
		return nil, fmt.Errorf("storage.Events: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.Events: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanEvent(rows *sql.Rows) (domain.Event, error) {
	var (
		id, kind, acct                              string
		amount, refund, fee, spent, repaid, excess sql.NullString
		atMs                                        int64
	)
	if err := rows.Scan(&id, &kind, &acct, &amount, &refund, &fee, &spent, &repaid, &excess, &atMs); err != nil {
		return domain.Event{}, fmt.Errorf("scan row: %w", err)
	}
	evID, err := uuid.Parse(id)
	if err != nil {
		return domain.Event{}, fmt.Errorf("event id %q: %w", id, err)
	}
	ev := domain.Event{
		ID:      evID,
		Kind:    domain.EventKind(kind),
		Account: common.HexToAddress(acct),
		At:      time.UnixMilli(atMs).UTC(),
	}
	if ev.Amount, err = decodeAmount(amount); err != nil {
		return domain.Event{}, fmt.Errorf("event %s amount: %w", id, err)
	}
	if ev.Refund, err = decodeAmount(refund); err != nil {
		return domain.Event{}, fmt.Errorf("event %s refund: %w", id, err)
	}
	if ev.Fee, err = decodeAmount(fee); err != nil {
		return domain.Event{}, fmt.Errorf("event %s fee: %w", id, err)
	}
	if ev.CollateralSpent, err = decodeAmount(spent); err != nil {
		return domain.Event{}, fmt.Errorf("event %s collateral_spent: %w", id, err)
	}
	if ev.DebtRepaid, err = decodeAmount(repaid); err != nil {
		return domain.Event{}, fmt.Errorf("event %s debt_repaid: %w", id, err)
	}
	if ev.Excess, err = decodeAmount(excess); err != nil {
		return domain.Event{}, fmt.Errorf("event %s excess: %w", id, err)
	}
	return ev, nil
}
