package storage

// sqlite.go: ledger de posiciones persistente.
//
// Estrategia:
//   - `positions`: UNA fila por cuenta con colateral y deuda > 0. Las
//     posiciones que vuelven a cero se borran (ausencia == cero).
//   - Importes como TEXT decimal: uint256 no cabe en INTEGER de SQLite y REAL
//     pierde precisión.
//   - Update es una transacción: SELECT → fn → UPSERT/DELETE → COMMIT. Si fn
//     falla no se escribe nada.
//   - Prune automático al arrancar: keeper_runs > 30d (ver keeper.go).

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	_ "modernc.org/sqlite"
)

const schema = `
-- Una fila por cuenta con posición abierta
CREATE TABLE IF NOT EXISTS positions (
    account    TEXT PRIMARY KEY,        -- 0x… checksum
    collateral TEXT NOT NULL DEFAULT '0',
    debt       TEXT NOT NULL DEFAULT '0',
    updated_at DATETIME NOT NULL
);
`

// SQLiteStorage implementa ports.PositionStore y ports.EventStore usando
// SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica
// todos los schemas.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	for _, ddl := range []string{schema, eventSchema, keeperSchema} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
		}
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// Position devuelve la posición de la cuenta, o la posición cero.
func (s *SQLiteStorage) Position(ctx context.Context, account common.Address) (domain.Position, error) {
	pos, err := loadPosition(ctx, s.db, account)
	if err != nil {
		return domain.Position{}, fmt.Errorf("storage.Position: %w", err)
	}
	return pos, nil
}

// Update hace el read-modify-write dentro de una transacción. El error de fn
// se devuelve tal cual, sin envolver.
func (s *SQLiteStorage) Update(ctx context.Context, account common.Address, fn func(*domain.Position) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Update: begin tx: %w", err)
	}
	defer tx.Rollback()

	pos, err := loadPosition(ctx, tx, account)
	if err != nil {
		return fmt.Errorf("storage.Update: %w", err)
	}
	if err := fn(&pos); err != nil {
		return err
	}
	pos.Account = account

	if pos.IsZero() {
		_, err = tx.ExecContext(ctx, `DELETE FROM positions WHERE account = ?`, account.Hex())
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO positions (account, collateral, debt, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(account) DO UPDATE SET
				collateral = excluded.collateral,
				debt       = excluded.debt,
				updated_at = excluded.updated_at
		`, account.Hex(), pos.Collateral.Dec(), pos.Debt.Dec(), time.Now().UTC())
	}
	if err != nil {
		return fmt.Errorf("storage.Update: write %s: %w", account.Hex(), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.Update: commit: %w", err)
	}
	return nil
}

// Positions devuelve todas las posiciones abiertas, ordenadas por cuenta.
func (s *SQLiteStorage) Positions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account, collateral, debt FROM positions ORDER BY account`)
	if err != nil {
		return nil, fmt.Errorf("storage.Positions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var acct, col, debt string
		if err := rows.Scan(&acct, &col, &debt); err != nil {
			return nil, fmt.Errorf("storage.Positions: scan row: %w", err)
		}
		pos, err := decodePosition(acct, col, debt)
		if err != nil {
			return nil, fmt.Errorf("storage.Positions: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadPosition(ctx context.Context, q querier, account common.Address) (domain.Position, error) {
	var col, debt string
	err := q.QueryRowContext(ctx,
		`SELECT collateral, debt FROM positions WHERE account = ?`, account.Hex(),
	).Scan(&col, &debt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewPosition(account), nil
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("load %s: %w", account.Hex(), err)
	}
	return decodePosition(account.Hex(), col, debt)
}

func decodePosition(acct, col, debt string) (domain.Position, error) {
	if !common.IsHexAddress(acct) {
		return domain.Position{}, fmt.Errorf("invalid account %q", acct)
	}
	pos := domain.NewPosition(common.HexToAddress(acct))
	if err := pos.Collateral.SetFromDecimal(col); err != nil {
		return domain.Position{}, fmt.Errorf("decode collateral of %s: %w", acct, err)
	}
	if err := pos.Debt.SetFromDecimal(debt); err != nil {
		return domain.Position{}, fmt.Errorf("decode debt of %s: %w", acct, err)
	}
	return pos, nil
}

// decodeAmount admite NULL/"" como nil (campos de evento no usados).
func decodeAmount(s sql.NullString) (*uint256.Int, error) {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return nil, nil
	}
	return uint256.FromDecimal(s.String)
}

func encodeAmount(x *uint256.Int) any {
	if x == nil {
		return nil
	}
	return x.Dec()
}
