package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/holiman/uint256"

	"demura/internal/ledger/models"
	"demura/pkg/domain"
)

// Postgres persists ledger entries, the rate schedule and allowances.
// Raw values are NUMERIC(78,0) — wide enough for any 256-bit amount.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_entries (
			entity          TEXT PRIMARY KEY,
			raw_value       NUMERIC(78,0) NOT NULL,
			on_period       BIGINT NOT NULL DEFAULT 0,
			on_change_index INT NOT NULL DEFAULT 0,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS rate_schedule (
			period     BIGINT PRIMARY KEY,
			rate       NUMERIC(78,0) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS allowances (
			owner   TEXT NOT NULL,
			spender TEXT NOT NULL,
			amount  NUMERIC(78,0) NOT NULL,
			PRIMARY KEY (owner, spender)
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// GetRaw returns the stored raw value, zero for unknown entities.
func (s *Postgres) GetRaw(ctx context.Context, id domain.EntityID) (*uint256.Int, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT raw_value::text FROM ledger_entries WHERE entity = $1`, id.String(),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return uint256.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get raw value: %w", err)
	}
	return parseNumeric(raw)
}

// GetState returns the decay checkpoint, the zero state when unset.
func (s *Postgres) GetState(ctx context.Context, id domain.EntityID) (models.DecayState, error) {
	var (
		onPeriod int64
		onIndex  int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT on_period, on_change_index FROM ledger_entries WHERE entity = $1`, id.String(),
	).Scan(&onPeriod, &onIndex)
	if err == sql.ErrNoRows {
		return models.DecayState{}, nil
	}
	if err != nil {
		return models.DecayState{}, fmt.Errorf("get decay state: %w", err)
	}
	return models.DecayState{OnPeriod: uint64(onPeriod), OnChangeIndex: onIndex}, nil
}

const upsertEntryQuery = `
	INSERT INTO ledger_entries (entity, raw_value, on_period, on_change_index, updated_at)
	VALUES ($1, $2::numeric, $3, $4, now())
	ON CONFLICT (entity) DO UPDATE SET
		raw_value = EXCLUDED.raw_value,
		on_period = EXCLUDED.on_period,
		on_change_index = EXCLUDED.on_change_index,
		updated_at = EXCLUDED.updated_at
`

const upsertAllowanceQuery = `
	INSERT INTO allowances (owner, spender, amount)
	VALUES ($1, $2, $3::numeric)
	ON CONFLICT (owner, spender) DO UPDATE SET amount = EXCLUDED.amount
`

// Apply upserts all settlements in one transaction so an operation's
// writes land together or not at all.
func (s *Postgres) Apply(ctx context.Context, settlements ...models.Settlement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertSettlements(ctx, tx, settlements); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}
	return nil
}

// ApplyWithAllowance upserts the settlements and the allowance update in
// the same transaction.
func (s *Postgres) ApplyWithAllowance(ctx context.Context, update models.AllowanceUpdate, settlements ...models.Settlement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertSettlements(ctx, tx, settlements); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsertAllowanceQuery,
		update.Owner.String(), update.Spender.String(), update.Remaining.Dec(),
	); err != nil {
		return fmt.Errorf("apply allowance update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}
	return nil
}

func upsertSettlements(ctx context.Context, tx *sql.Tx, settlements []models.Settlement) error {
	for _, st := range settlements {
		if _, err := tx.ExecContext(ctx, upsertEntryQuery,
			st.Entity.String(), st.Value.Dec(), int64(st.State.OnPeriod), st.State.OnChangeIndex,
		); err != nil {
			return fmt.Errorf("apply settlement for %s: %w", st.Entity, err)
		}
	}
	return nil
}

// Append stores a new schedule entry.
func (s *Postgres) Append(ctx context.Context, change models.RateChange) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rate_schedule (period, rate) VALUES ($1, $2::numeric)`,
		int64(change.Period), change.Rate.Dec(),
	)
	if err != nil {
		return fmt.Errorf("append schedule entry: %w", err)
	}
	return nil
}

// List returns all schedule entries ordered by period.
func (s *Postgres) List(ctx context.Context) ([]models.RateChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT period, rate::text FROM rate_schedule ORDER BY period ASC`)
	if err != nil {
		return nil, fmt.Errorf("list schedule: %w", err)
	}
	defer rows.Close()

	var out []models.RateChange
	for rows.Next() {
		var (
			p   int64
			raw string
		)
		if err := rows.Scan(&p, &raw); err != nil {
			return nil, fmt.Errorf("scan schedule entry: %w", err)
		}
		rate, err := parseNumeric(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, models.RateChange{Period: uint64(p), Rate: rate})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schedule: %w", err)
	}
	return out, nil
}

// Allowance returns the remaining approval, zero when unset.
func (s *Postgres) Allowance(ctx context.Context, owner, spender domain.AccountID) (*uint256.Int, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT amount::text FROM allowances WHERE owner = $1 AND spender = $2`,
		owner.String(), spender.String(),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return uint256.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get allowance: %w", err)
	}
	return parseNumeric(raw)
}

// SetAllowance overwrites the approval.
func (s *Postgres) SetAllowance(ctx context.Context, owner, spender domain.AccountID, amount *uint256.Int) error {
	_, err := s.db.ExecContext(ctx, upsertAllowanceQuery,
		owner.String(), spender.String(), amount.Dec())
	if err != nil {
		return fmt.Errorf("set allowance: %w", err)
	}
	return nil
}

func parseNumeric(raw string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("parse numeric %q: %w", raw, err)
	}
	return v, nil
}
