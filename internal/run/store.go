package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/apperr"

	_ "modernc.org/sqlite"
)

// Store persists trading runs and their trades in sqlite.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("run store dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureRunSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureRunSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trading_runs (
			id TEXT PRIMARY KEY,
			owner TEXT,
			mode TEXT NOT NULL,
			symbol TEXT NOT NULL,
			starting_capital REAL NOT NULL,
			model_version TEXT NOT NULL,
			params_json TEXT NOT NULL,
			total_trades INTEGER NOT NULL DEFAULT 0,
			winning_trades INTEGER NOT NULL DEFAULT 0,
			session_start INTEGER NOT NULL,
			session_end INTEGER,
			window_start INTEGER,
			window_end INTEGER,
			final_capital REAL,
			win_rate REAL,
			total_return REAL,
			max_drawdown REAL,
			avg_trade_size REAL,
			best_trade_pl REAL,
			worst_trade_pl REAL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			side TEXT NOT NULL,
			symbol TEXT NOT NULL,
			quantity REAL NOT NULL,
			price REAL NOT NULL,
			gross_value REAL NOT NULL,
			fee REAL NOT NULL,
			net_value REAL NOT NULL,
			portfolio_before REAL NOT NULL,
			portfolio_after REAL NOT NULL,
			profit_loss REAL,
			trigger_reason TEXT NOT NULL,
			confidence REAL NOT NULL,
			market_price REAL NOT NULL,
			executed_at INTEGER NOT NULL,
			FOREIGN KEY(run_id) REFERENCES trading_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run_time ON trades(run_id, executed_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON trading_runs(created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun writes a freshly created (open) run.
func (s *Store) InsertRun(ctx context.Context, r *TradingRun) error {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trading_runs
			(id, owner, mode, symbol, starting_capital, model_version, params_json,
			 total_trades, winning_trades, session_start, window_start, window_end,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullableString(r.Owner), r.Mode, r.Symbol, r.StartingCapital,
		r.ModelVersion, string(params), r.TotalTrades, r.WinningTrades,
		r.SessionStart.UnixMilli(), nullableTime(r.WindowStart), nullableTime(r.WindowEnd),
		now, now)
	return err
}

// InsertTrade appends one trade and bumps the run's counters in the same
// transaction so total_trades always matches the trade list.
func (s *Store) InsertTrade(ctx context.Context, t *Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var pl interface{}
	if t.ProfitLoss != nil {
		pl = *t.ProfitLoss
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trades
			(id, run_id, side, symbol, quantity, price, gross_value, fee, net_value,
			 portfolio_before, portfolio_after, profit_loss, trigger_reason,
			 confidence, market_price, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RunID, t.Side, t.Symbol, t.Quantity, t.Price, t.GrossValue, t.Fee,
		t.NetValue, t.PortfolioBefore, t.PortfolioAfter, pl, t.Trigger,
		t.Confidence, t.MarketPrice, t.ExecutedAt.UnixMilli()); err != nil {
		_ = tx.Rollback()
		return err
	}
	win := 0
	if t.Winning() {
		win = 1
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE trading_runs
		SET total_trades = total_trades + 1,
		    winning_trades = winning_trades + ?,
		    updated_at = ?
		WHERE id = ?`, win, time.Now().UnixMilli(), t.RunID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// FinalizeRun writes the summary exactly once. A second finalize attempt
// is rejected with AlreadyCompleted; a completed run's record is never
// overwritten. session_end must come after the run's session_start.
func (s *Store) FinalizeRun(ctx context.Context, id string, sum Summary) error {
	existing, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if existing.Completed() {
		return apperr.New(apperr.KindAlreadyCompleted, "run %s is already completed", id)
	}
	if !sum.SessionEnd.After(existing.SessionStart) {
		return apperr.Validationf("session_end must be after session_start")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE trading_runs
		SET session_end=?, final_capital=?, win_rate=?, total_return=?,
		    max_drawdown=?, avg_trade_size=?, best_trade_pl=?, worst_trade_pl=?,
		    updated_at=?
		WHERE id=? AND session_end IS NULL`,
		sum.SessionEnd.UnixMilli(), sum.FinalCapital, nullableFloat(sum.WinRate),
		sum.TotalReturn, sum.MaxDrawdown, sum.AvgTradeSize,
		nullableFloat(sum.BestTradePL), nullableFloat(sum.WorstTradePL),
		time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.GetRun(ctx, id); err != nil {
			return err
		}
		return apperr.New(apperr.KindAlreadyCompleted, "run %s is already completed", id)
	}
	return nil
}

// DeleteRun removes a run and, via the FK cascade, its trades. Used to
// roll back a run whose live loop could not start.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trading_runs WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFoundf("run %s not found", id)
	}
	return nil
}

const runColumns = `id, owner, mode, symbol, starting_capital, model_version, params_json,
	total_trades, winning_trades, session_start, session_end, window_start, window_end,
	final_capital, win_rate, total_return, max_drawdown, avg_trade_size,
	best_trade_pl, worst_trade_pl, created_at, updated_at`

func (s *Store) GetRun(ctx context.Context, id string) (*TradingRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM trading_runs WHERE id=?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("run %s not found", id)
	}
	return r, err
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]*TradingRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM trading_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*TradingRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// ListTrades pages a run's trades, newest execution first, and returns
// the total count so clients can page.
func (s *Store) ListTrades(ctx context.Context, runID string, limit, offset int) ([]Trade, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		return nil, 0, apperr.Validationf("limit must be <= 100, got %d", limit)
	}
	if offset < 0 {
		return nil, 0, apperr.Validationf("offset must be >= 0, got %d", offset)
	}
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, 0, err
	}
	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM trades WHERE run_id=?`, runID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, side, symbol, quantity, price, gross_value, fee, net_value,
		       portfolio_before, portfolio_after, profit_loss, trigger_reason,
		       confidence, market_price, executed_at
		FROM trades
		WHERE run_id=?
		ORDER BY executed_at DESC, id DESC
		LIMIT ? OFFSET ?`, runID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Trade
	for rows.Next() {
		var t Trade
		var pl sql.NullFloat64
		var executed int64
		if err := rows.Scan(&t.ID, &t.Side, &t.Symbol, &t.Quantity, &t.Price,
			&t.GrossValue, &t.Fee, &t.NetValue, &t.PortfolioBefore, &t.PortfolioAfter,
			&pl, &t.Trigger, &t.Confidence, &t.MarketPrice, &executed); err != nil {
			return nil, 0, err
		}
		t.RunID = runID
		t.ExecutedAt = timeFromMillis(executed)
		if pl.Valid {
			v := pl.Float64
			t.ProfitLoss = &v
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// AllTrades returns every trade of a run in execution order, for
// summary computation.
func (s *Store) AllTrades(ctx context.Context, runID string) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, side, symbol, quantity, price, gross_value, fee, net_value,
		       portfolio_before, portfolio_after, profit_loss, trigger_reason,
		       confidence, market_price, executed_at
		FROM trades
		WHERE run_id=?
		ORDER BY executed_at ASC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Trade
	for rows.Next() {
		var t Trade
		var pl sql.NullFloat64
		var executed int64
		if err := rows.Scan(&t.ID, &t.Side, &t.Symbol, &t.Quantity, &t.Price,
			&t.GrossValue, &t.Fee, &t.NetValue, &t.PortfolioBefore, &t.PortfolioAfter,
			&pl, &t.Trigger, &t.Confidence, &t.MarketPrice, &executed); err != nil {
			return nil, err
		}
		t.RunID = runID
		t.ExecutedAt = timeFromMillis(executed)
		if pl.Valid {
			v := pl.Float64
			t.ProfitLoss = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*TradingRun, error) {
	var r TradingRun
	var owner sql.NullString
	var paramsJSON string
	var sessionStart, createdAt, updatedAt int64
	var sessionEnd, windowStart, windowEnd sql.NullInt64
	var finalCapital, winRate, totalReturn, maxDrawdown sql.NullFloat64
	var avgTradeSize, bestPL, worstPL sql.NullFloat64
	if err := row.Scan(&r.ID, &owner, &r.Mode, &r.Symbol, &r.StartingCapital,
		&r.ModelVersion, &paramsJSON, &r.TotalTrades, &r.WinningTrades,
		&sessionStart, &sessionEnd, &windowStart, &windowEnd,
		&finalCapital, &winRate, &totalReturn, &maxDrawdown,
		&avgTradeSize, &bestPL, &worstPL, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if owner.Valid {
		r.Owner = &owner.String
	}
	if err := json.Unmarshal([]byte(paramsJSON), &r.Params); err != nil {
		return nil, err
	}
	r.SessionStart = timeFromMillis(sessionStart)
	r.CreatedAt = timeFromMillis(createdAt)
	r.UpdatedAt = timeFromMillis(updatedAt)
	if windowStart.Valid {
		t := timeFromMillis(windowStart.Int64)
		r.WindowStart = &t
	}
	if windowEnd.Valid {
		t := timeFromMillis(windowEnd.Int64)
		r.WindowEnd = &t
	}
	if sessionEnd.Valid && finalCapital.Valid {
		sum := &Summary{
			SessionEnd:   timeFromMillis(sessionEnd.Int64),
			FinalCapital: finalCapital.Float64,
			TotalReturn:  totalReturn.Float64,
			MaxDrawdown:  maxDrawdown.Float64,
			AvgTradeSize: avgTradeSize.Float64,
		}
		if winRate.Valid {
			v := winRate.Float64
			sum.WinRate = &v
		}
		if bestPL.Valid {
			v := bestPL.Float64
			sum.BestTradePL = &v
		}
		if worstPL.Valid {
			v := worstPL.Float64
			sum.WorstTradePL = &v
		}
		r.Summary = sum
	}
	return &r, nil
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond)).UTC()
}
