package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/0xd3bs/buysmart/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const pgPositionColumns = `id, side, status, price_usd::TEXT, opened_at,
	close_price_usd::TEXT, closed_at, profit_loss::TEXT, profit_loss_percent::TEXT, amount::TEXT`

// PostgresStore implements PositionStore using PostgreSQL as the source of
// truth. All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ConnectPostgres opens a pool and verifies it with a ping.
func ConnectPostgres(ctx context.Context, dsn string, maxConns int) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded migrations in lexicographic order and records
// each one in schema_migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`
	if _, err := s.pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("postgres: create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		var applied bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)", name,
		).Scan(&applied); err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", name, err)
		}
		if err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", name)
			return err
		}); err != nil {
			return fmt.Errorf("postgres: apply migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *PostgresStore) Open(ctx context.Context, p OpenParams) (model.Position, error) {
	pos, err := newPosition(p)
	if err != nil {
		return model.Position{}, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO positions (id, side, status, price_usd, opened_at, amount)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6::NUMERIC)`,
		pos.ID, string(pos.Side), string(pos.Status), pos.PriceUSD.String(), pos.OpenedAt, nullString(pos.Amount),
	)
	if err != nil {
		return model.Position{}, storageErr("postgres: insert position", err)
	}
	return pos, nil
}

// Close locks the row, applies the transition and writes it back in one
// transaction, so concurrent closes of the same id cannot both succeed.
func (s *PostgresStore) Close(ctx context.Context, id string, closedAt time.Time, closePrice decimal.Decimal) (model.Position, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Position{}, storageErr("postgres: begin close", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	pos, err := scanPGPosition(tx.QueryRow(ctx,
		`SELECT `+pgPositionColumns+` FROM positions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Position{}, pgLookupErr(id, err)
	}
	if err := applyClose(&pos, closedAt, closePrice); err != nil {
		return model.Position{}, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE positions
		 SET status = $2, close_price_usd = $3::NUMERIC, closed_at = $4,
		     profit_loss = $5::NUMERIC, profit_loss_percent = $6::NUMERIC
		 WHERE id = $1`,
		pos.ID, string(pos.Status), nullString(pos.ClosePriceUSD), *pos.ClosedAt,
		nullString(pos.ProfitLoss), nullString(pos.ProfitLossPercent),
	)
	if err != nil {
		return model.Position{}, storageErr("postgres: update position", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Position{}, storageErr("postgres: commit close", err)
	}
	return pos, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (model.Position, error) {
	pos, err := scanPGPosition(s.pool.QueryRow(ctx,
		`SELECT `+pgPositionColumns+` FROM positions WHERE id = $1`, id))
	if err != nil {
		return model.Position{}, pgLookupErr(id, err)
	}
	return pos, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgPositionColumns+` FROM positions ORDER BY seq`)
	if err != nil {
		return nil, storageErr("postgres: list positions", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		pos, err := scanPGPosition(rows)
		if err != nil {
			return nil, storageErr("postgres: scan position", err)
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("postgres: list positions", err)
	}
	return out, nil
}

func (s *PostgresStore) ListOpen(ctx context.Context) ([]model.OpenPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, opened_at, side FROM positions
		 WHERE status = 'OPEN'
		 ORDER BY opened_at, seq`)
	if err != nil {
		return nil, storageErr("postgres: list open positions", err)
	}
	defer rows.Close()

	var open []model.OpenPosition
	for rows.Next() {
		var (
			op   model.OpenPosition
			side string
		)
		if err := rows.Scan(&op.ID, &op.OpenedAt, &side); err != nil {
			return nil, storageErr("postgres: scan open position", err)
		}
		op.Side = model.Side(side)
		op.OpenedAt = op.OpenedAt.UTC()
		open = append(open, op)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("postgres: list open positions", err)
	}
	return open, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id); err != nil {
		return storageErr("postgres: delete position", err)
	}
	return nil
}

func pgLookupErr(id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return storageErr("postgres: get position "+id, err)
}

func scanPGPosition(row pgx.Row) (model.Position, error) {
	var (
		p                           model.Position
		side, status, price         string
		closePrice, pl, plPct, amnt *string
		closedAt                    *time.Time
	)
	if err := row.Scan(&p.ID, &side, &status, &price, &p.OpenedAt,
		&closePrice, &closedAt, &pl, &plPct, &amnt); err != nil {
		return model.Position{}, err
	}
	return buildPosition(p, side, status, price, closePrice, closedAt, pl, plPct, amnt)
}
