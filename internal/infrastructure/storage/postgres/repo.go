package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"alphawatch/internal/application/port"
	"alphawatch/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS snapshots (
  id BIGSERIAL PRIMARY KEY,
  ts_ms BIGINT NOT NULL,
  payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts_ms);

CREATE TABLE IF NOT EXISTS trade_events (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  model_id TEXT NOT NULL,
  symbol TEXT NOT NULL DEFAULT '',
  action TEXT NOT NULL DEFAULT '',
  quantity NUMERIC,
  leverage INTEGER NOT NULL DEFAULT 0,
  message TEXT NOT NULL,
  ts TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_events_ts ON trade_events(ts);
`)
	return err
}

func (r *Repo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO snapshots(ts_ms, payload) VALUES($1, $2)`, ts, payload)
	return err
}

func (r *Repo) InsertEvents(ctx context.Context, events []model.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range events {
		var qty any
		if e.Quantity != "" {
			qty = e.Quantity
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trade_events(id, type, model_id, symbol, action, quantity, leverage, message, ts)
			VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			e.ID, string(e.Type), e.ModelID, e.Symbol, string(e.Action), qty, e.Leverage, e.Message, e.Timestamp); err != nil {
			return err
		}
	}
	return tx.Commit()
}

var _ port.Repository = (*Repo)(nil)
