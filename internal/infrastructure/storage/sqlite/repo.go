package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"alphawatch/internal/application/port"
	"alphawatch/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

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
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts_ms INTEGER NOT NULL,
  payload TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts_ms);

CREATE TABLE IF NOT EXISTS trade_events (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  model_id TEXT NOT NULL,
  symbol TEXT NOT NULL DEFAULT '',
  action TEXT NOT NULL DEFAULT '',
  quantity TEXT NOT NULL DEFAULT '',
  prev_quantity TEXT NOT NULL DEFAULT '',
  cur_quantity TEXT NOT NULL DEFAULT '',
  prev_leverage INTEGER NOT NULL DEFAULT 0,
  leverage INTEGER NOT NULL DEFAULT 0,
  entry_price REAL NOT NULL DEFAULT 0,
  current_price REAL NOT NULL DEFAULT 0,
  message TEXT NOT NULL,
  ts_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_events_ts ON trade_events(ts_ms);
CREATE INDEX IF NOT EXISTS idx_trade_events_model ON trade_events(model_id);
`)
	return err
}

func (r *Repo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO snapshots(ts_ms, payload, created_at) VALUES(?, ?, ?)`, ts, payload, time.Now().UnixMilli())
	return err
}

// InsertEvents 在一个事务中写入本轮全部事件
func (r *Repo) InsertEvents(ctx context.Context, events []model.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trade_events(id, type, model_id, symbol, action, quantity, prev_quantity, cur_quantity,
			prev_leverage, leverage, entry_price, current_price, message, ts_ms, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, e := range events {
		if e.ID == "" {
			return fmt.Errorf("sqlite: event %s/%s has no id", e.ModelID, e.Type)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, string(e.Type), e.ModelID, e.Symbol, string(e.Action),
			e.Quantity, e.PrevQuantity, e.CurQuantity, e.PrevLeverage, e.Leverage,
			e.EntryPrice, e.CurrentPrice, e.Message, e.Timestamp.UnixMilli(), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repo) RecentEvents(ctx context.Context, limit int) ([]model.EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, model_id, symbol, action, quantity, prev_quantity, cur_quantity,
			prev_leverage, leverage, entry_price, current_price, message, ts_ms
		FROM trade_events ORDER BY ts_ms DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EventRecord
	for rows.Next() {
		var (
			e        model.EventRecord
			typ, act string
			tsMs     int64
		)
		if err := rows.Scan(&e.ID, &typ, &e.ModelID, &e.Symbol, &act, &e.Quantity, &e.PrevQuantity, &e.CurQuantity,
			&e.PrevLeverage, &e.Leverage, &e.EntryPrice, &e.CurrentPrice, &e.Message, &tsMs); err != nil {
			return nil, err
		}
		e.Type = model.EventKind(typ)
		e.Action = model.Action(act)
		e.Timestamp = time.UnixMilli(tsMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

var (
	_ port.Repository  = (*Repo)(nil)
	_ port.EventLister = (*Repo)(nil)
)
