package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/0xd3bs/buysmart/internal/model"
)

// SQLiteSchema is applied on every open; statements are idempotent.
// Timestamps are unix nanoseconds, decimals are TEXT.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS positions (
	seq                 INTEGER PRIMARY KEY AUTOINCREMENT,
	id                  TEXT    NOT NULL UNIQUE,
	side                TEXT    NOT NULL CHECK (side IN ('BUY', 'SELL')),
	status              TEXT    NOT NULL DEFAULT 'OPEN' CHECK (status IN ('OPEN', 'CLOSED')),
	price_usd           TEXT    NOT NULL,
	opened_at           INTEGER NOT NULL,
	close_price_usd     TEXT,
	closed_at           INTEGER,
	profit_loss         TEXT,
	profit_loss_percent TEXT,
	amount              TEXT
);

CREATE INDEX IF NOT EXISTS idx_positions_status_opened
	ON positions (status, opened_at, seq);
`

const sqlitePositionColumns = `id, side, status, price_usd, opened_at,
	close_price_usd, closed_at, profit_loss, profit_loss_percent, amount`

// SQLiteStore implements PositionStore on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One writer at a time; keeps the close transaction serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(SQLiteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Open(ctx context.Context, p OpenParams) (model.Position, error) {
	pos, err := newPosition(p)
	if err != nil {
		return model.Position{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO positions (id, side, status, price_usd, opened_at, amount)
		VALUES (?, ?, ?, ?, ?, ?)`,
		pos.ID, string(pos.Side), string(pos.Status), pos.PriceUSD.String(),
		pos.OpenedAt.UnixNano(), nullString(pos.Amount),
	)
	if err != nil {
		return model.Position{}, storageErr("sqlite: insert position", err)
	}
	return pos, nil
}

func (s *SQLiteStore) Close(ctx context.Context, id string, closedAt time.Time, closePrice decimal.Decimal) (model.Position, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Position{}, storageErr("sqlite: begin close", err)
	}
	defer tx.Rollback() //nolint:errcheck

	pos, err := scanSQLitePosition(tx.QueryRowContext(ctx,
		`SELECT `+sqlitePositionColumns+` FROM positions WHERE id = ?`, id))
	if err != nil {
		return model.Position{}, sqliteLookupErr(id, err)
	}
	if err := applyClose(&pos, closedAt, closePrice); err != nil {
		return model.Position{}, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE positions
		SET status = ?, close_price_usd = ?, closed_at = ?, profit_loss = ?, profit_loss_percent = ?
		WHERE id = ?`,
		string(pos.Status), nullString(pos.ClosePriceUSD), pos.ClosedAt.UnixNano(),
		nullString(pos.ProfitLoss), nullString(pos.ProfitLossPercent), pos.ID,
	)
	if err != nil {
		return model.Position{}, storageErr("sqlite: update position", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Position{}, storageErr("sqlite: commit close", err)
	}
	return pos, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (model.Position, error) {
	pos, err := scanSQLitePosition(s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePositionColumns+` FROM positions WHERE id = ?`, id))
	if err != nil {
		return model.Position{}, sqliteLookupErr(id, err)
	}
	return pos, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePositionColumns+` FROM positions ORDER BY seq`)
	if err != nil {
		return nil, storageErr("sqlite: list positions", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		pos, err := scanSQLitePosition(rows)
		if err != nil {
			return nil, storageErr("sqlite: scan position", err)
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("sqlite: list positions", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListOpen(ctx context.Context) ([]model.OpenPosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, opened_at, side FROM positions
		WHERE status = 'OPEN'
		ORDER BY opened_at, seq`)
	if err != nil {
		return nil, storageErr("sqlite: list open positions", err)
	}
	defer rows.Close()

	var open []model.OpenPosition
	for rows.Next() {
		var (
			op       model.OpenPosition
			openedAt int64
			side     string
		)
		if err := rows.Scan(&op.ID, &openedAt, &side); err != nil {
			return nil, storageErr("sqlite: scan open position", err)
		}
		op.OpenedAt = time.Unix(0, openedAt).UTC()
		op.Side = model.Side(side)
		open = append(open, op)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("sqlite: list open positions", err)
	}
	return open, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id); err != nil {
		return storageErr("sqlite: delete position", err)
	}
	return nil
}

// Shutdown closes the database handle.
func (s *SQLiteStore) Shutdown() error {
	return s.db.Close()
}

func sqliteLookupErr(id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return storageErr("sqlite: get position "+id, err)
}

type sqlRow interface {
	Scan(dest ...any) error
}

func scanSQLitePosition(row sqlRow) (model.Position, error) {
	var (
		p                           model.Position
		side, status, price         string
		openedAt                    int64
		closedAt                    *int64
		closePrice, pl, plPct, amnt *string
	)
	if err := row.Scan(&p.ID, &side, &status, &price, &openedAt,
		&closePrice, &closedAt, &pl, &plPct, &amnt); err != nil {
		return model.Position{}, err
	}
	p.OpenedAt = time.Unix(0, openedAt)
	var closed *time.Time
	if closedAt != nil {
		t := time.Unix(0, *closedAt)
		closed = &t
	}
	return buildPosition(p, side, status, price, closePrice, closed, pl, plPct, amnt)
}
