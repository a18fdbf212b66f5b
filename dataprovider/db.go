package dataprovider

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"robotcrypt/pkg/models"
	"robotcrypt/utilities"
)

// SQLiteStore persists candles and the engine snapshot. It backs both the
// CandleStore used by the series cache and the state store used by the
// engine.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteStore(cfg utilities.DatabaseConfig, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, err
	}
	schema := `
	CREATE TABLE IF NOT EXISTS candles (
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		open_time INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		UNIQUE(symbol, interval, open_time)
	);
	CREATE INDEX IF NOT EXISTS idx_candles_lookup ON candles (symbol, interval, open_time);

	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		state TEXT NOT NULL,
		tier TEXT NOT NULL,
		entry_price REAL NOT NULL,
		quantity REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		opened_at INTEGER NOT NULL,
		max_hold_until INTEGER NOT NULL,
		closed_at INTEGER NOT NULL DEFAULT 0,
		close_reason TEXT NOT NULL DEFAULT '',
		exit_price REAL NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL DEFAULT 0,
		close_attempts INTEGER NOT NULL DEFAULT 0,
		escalated INTEGER NOT NULL DEFAULT 0,
		entry_order_id TEXT NOT NULL DEFAULT '',
		exit_order_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS engine_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		consecutive_losses INTEGER NOT NULL,
		risk_multiplier REAL NOT NULL,
		daily_trade_count INTEGER NOT NULL,
		day_start INTEGER NOT NULL,
		last_loss_at INTEGER NOT NULL,
		equity REAL NOT NULL,
		saved_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger.Named("sqlite")}, nil
}

// SaveCandles upserts the given candles.
func (s *SQLiteStore) SaveCandles(candles []models.Candle) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO candles (symbol, interval, open_time, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, c := range candles {
		if _, err := stmt.Exec(c.Symbol, c.Interval, c.OpenTime.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LoadCandles returns candles with open times in [start, end], ascending.
func (s *SQLiteStore) LoadCandles(symbol, interval string, start, end time.Time) ([]models.Candle, error) {
	rows, err := s.db.Query(`SELECT open_time, open, high, low, close, volume FROM candles WHERE symbol=? AND interval=? AND open_time BETWEEN ? AND ? ORDER BY open_time ASC`,
		symbol, interval, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		var ts int64
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		c.Symbol = symbol
		c.Interval = interval
		c.OpenTime = time.UnixMilli(ts).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// SaveSnapshot atomically replaces the persisted engine state.
func (s *SQLiteStore) SaveSnapshot(snap models.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM positions`); err != nil {
		tx.Rollback()
		return err
	}
	for _, p := range snap.Positions {
		_, err := tx.Exec(`INSERT INTO positions
			(id, symbol, side, state, tier, entry_price, quantity, stop_loss, take_profit,
			 opened_at, max_hold_until, closed_at, close_reason, exit_price, realized_pnl,
			 close_attempts, escalated, entry_order_id, exit_order_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Symbol, string(p.Side), string(p.State), string(p.Tier),
			p.EntryPrice, p.Quantity, p.StopLoss, p.TakeProfit,
			p.OpenedAt.Unix(), p.MaxHoldUntil.Unix(), unixOrZero(p.ClosedAt),
			string(p.CloseReason), p.ExitPrice, p.RealizedPnL,
			p.CloseAttempts, boolToInt(p.Escalated), p.EntryOrderID, p.ExitOrderID)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	_, err = tx.Exec(`INSERT OR REPLACE INTO engine_state
		(id, consecutive_losses, risk_multiplier, daily_trade_count, day_start, last_loss_at, equity, saved_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Risk.ConsecutiveLosses, snap.Risk.RiskMultiplier, snap.Risk.DailyTradeCount,
		unixOrZero(snap.Risk.DayStart), unixOrZero(snap.Risk.LastLossAt),
		snap.Equity, snap.SavedAt.Unix())
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// LoadSnapshot reads the persisted engine state. A fresh database yields a
// zero Snapshot and no error.
func (s *SQLiteStore) LoadSnapshot() (models.Snapshot, error) {
	var snap models.Snapshot

	row := s.db.QueryRow(`SELECT consecutive_losses, risk_multiplier, daily_trade_count, day_start, last_loss_at, equity, saved_at FROM engine_state WHERE id = 1`)
	var dayStart, lastLoss, savedAt int64
	err := row.Scan(&snap.Risk.ConsecutiveLosses, &snap.Risk.RiskMultiplier, &snap.Risk.DailyTradeCount,
		&dayStart, &lastLoss, &snap.Equity, &savedAt)
	switch {
	case err == sql.ErrNoRows:
		return models.Snapshot{}, nil
	case err != nil:
		return models.Snapshot{}, fmt.Errorf("load engine state: %w", err)
	}
	snap.Risk.DayStart = timeOrZero(dayStart)
	snap.Risk.LastLossAt = timeOrZero(lastLoss)
	snap.SavedAt = time.Unix(savedAt, 0).UTC()

	rows, err := s.db.Query(`SELECT id, symbol, side, state, tier, entry_price, quantity, stop_loss, take_profit,
		opened_at, max_hold_until, closed_at, close_reason, exit_price, realized_pnl,
		close_attempts, escalated, entry_order_id, exit_order_id FROM positions`)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Position
		var side, state, tier, reason string
		var openedAt, maxHold, closedAt int64
		var escalated int
		if err := rows.Scan(&p.ID, &p.Symbol, &side, &state, &tier, &p.EntryPrice, &p.Quantity,
			&p.StopLoss, &p.TakeProfit, &openedAt, &maxHold, &closedAt, &reason,
			&p.ExitPrice, &p.RealizedPnL, &p.CloseAttempts, &escalated,
			&p.EntryOrderID, &p.ExitOrderID); err != nil {
			return models.Snapshot{}, fmt.Errorf("scan position: %w", err)
		}
		p.Side = models.Action(side)
		p.State = models.PositionState(state)
		p.Tier = models.Tier(tier)
		p.CloseReason = models.CloseReason(reason)
		p.OpenedAt = time.Unix(openedAt, 0).UTC()
		p.MaxHoldUntil = time.Unix(maxHold, 0).UTC()
		p.ClosedAt = timeOrZero(closedAt)
		p.Escalated = escalated != 0
		snap.Positions = append(snap.Positions, p)
	}
	return snap, rows.Err()
}

// CleanupOldCandles drops candles older than the cutoff.
func (s *SQLiteStore) CleanupOldCandles(olderThan time.Time) error {
	_, err := s.db.Exec(`DELETE FROM candles WHERE open_time < ?`, olderThan.UnixMilli())
	return err
}

// StartScheduledCleanup prunes old candles periodically until ctx ends.
func (s *SQLiteStore) StartScheduledCleanup(ctx context.Context, every time.Duration, retentionDays int) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -retentionDays)
				if err := s.CleanupOldCandles(cutoff); err != nil {
					s.logger.Warn("scheduled cleanup failed", zap.Error(err))
				} else {
					s.logger.Debug("scheduled cleanup done", zap.Time("cutoff", cutoff))
				}
			}
		}
	}()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
