package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrSessionRequired = errors.New("session_id is required")
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyClosed   = errors.New("trade already closed")
)

const tradeColumns = `id, position_id, session_id, symbol, side, signal, interval,
	entry_price, qty, leverage, margin, take_profit, stop_loss, liquidation_price,
	trailing, exit_mode, entry_time, kline_time, exit_price, exit_time, profit,
	close_reason, closed`

// CreateSession records a run; re-using an id is a no-op.
func (d *Database) CreateSession(ctx context.Context, s Session) error {
	if s.ID == "" {
		return ErrSessionRequired
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO sessions (id, mode, host, started_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, s.ID, s.Mode, s.Host, toMillis(s.StartedAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions first. limit <= 0 means all.
func (d *Database) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	query := `SELECT id, mode, host, started_at FROM sessions ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s       Session
			started int64
		)
		if err := rows.Scan(&s.ID, &s.Mode, &s.Host, &started); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.StartedAt = fromMillis(started)
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertTrade journals an opened position and returns the row id.
func (d *Database) InsertTrade(ctx context.Context, t Trade) (int64, error) {
	if t.SessionID == "" {
		return 0, ErrSessionRequired
	}
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (position_id, session_id, symbol, side, signal, interval,
			entry_price, qty, leverage, margin, take_profit, stop_loss, liquidation_price,
			trailing, exit_mode, entry_time, kline_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.PositionID, t.SessionID, t.Symbol, t.Side, t.Signal, t.Interval,
		t.EntryPrice, t.Qty, t.Leverage, t.Margin, t.TakeProfit, t.StopLoss, t.LiquidationPrice,
		boolToInt(t.Trailing), t.ExitMode, toMillis(t.EntryTime), toMillis(t.KlineTime))
	if err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	return res.LastInsertId()
}

// CloseTrade stores the exit of a journaled trade exactly once.
func (d *Database) CloseTrade(ctx context.Context, id int64, exitPrice float64, exitTime time.Time, profit float64, reason string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE trades SET exit_price = ?, exit_time = ?, profit = ?, close_reason = ?, closed = 1
		WHERE id = ? AND closed = 0
	`, exitPrice, toMillis(exitTime), profit, reason, id)
	if err != nil {
		return fmt.Errorf("close trade %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var closed int
	err = d.DB.QueryRowContext(ctx, `SELECT closed FROM trades WHERE id = ?`, id).Scan(&closed)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup trade %d: %w", id, err)
	}
	return ErrAlreadyClosed
}

// GetTrade loads one trade by row id.
func (d *Database) GetTrade(ctx context.Context, id int64) (*Trade, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTrades returns the newest trades of a session first; limit <= 0 means all.
func (d *Database) ListTrades(ctx context.Context, sessionID string, limit int) ([]Trade, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE session_id = ? ORDER BY id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return d.queryTrades(ctx, query, args...)
}

// ListOpenTrades returns trades of a session that have no exit yet.
func (d *Database) ListOpenTrades(ctx context.Context, sessionID string) ([]Trade, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	return d.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE session_id = ? AND closed = 0 ORDER BY id`, sessionID)
}

// SessionStats aggregates closed trades of a session.
func (d *Database) SessionStats(ctx context.Context, sessionID string) (TradeStats, error) {
	if sessionID == "" {
		return TradeStats{}, ErrSessionRequired
	}
	var s TradeStats
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN profit > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN profit <= 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(profit), 0)
		FROM trades WHERE session_id = ? AND closed = 1
	`, sessionID).Scan(&s.Trades, &s.Wins, &s.Losses, &s.NetPnL)
	if err != nil {
		return TradeStats{}, fmt.Errorf("session stats: %w", err)
	}
	return s, nil
}

func (d *Database) queryTrades(ctx context.Context, query string, args ...any) ([]Trade, error) {
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(r rowScanner) (Trade, error) {
	var (
		t                        Trade
		trailing, closed         int
		entryMs, klineMs, exitMs int64
	)
	err := r.Scan(&t.ID, &t.PositionID, &t.SessionID, &t.Symbol, &t.Side, &t.Signal, &t.Interval,
		&t.EntryPrice, &t.Qty, &t.Leverage, &t.Margin, &t.TakeProfit, &t.StopLoss, &t.LiquidationPrice,
		&trailing, &t.ExitMode, &entryMs, &klineMs, &t.ExitPrice, &exitMs, &t.Profit,
		&t.CloseReason, &closed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trade{}, err
		}
		return Trade{}, fmt.Errorf("scan trade: %w", err)
	}
	t.Trailing = trailing == 1
	t.Closed = closed == 1
	t.EntryTime = fromMillis(entryMs)
	t.KlineTime = fromMillis(klineMs)
	t.ExitTime = fromMillis(exitMs)
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
