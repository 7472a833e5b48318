package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordRun(r Run) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO runs
		(run_id, created, mode, market, data_type, assets, strategy, params,
		 start_time, end_time, bars, trades, wins, losses, warnings,
		 start_equity, end_equity, net_pnl, return_pct, win_rate, profit_factor, max_dd_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Created, r.Mode, r.Market, r.DataType, strings.Join(r.Assets, ","), r.Strategy, r.paramsJSON(),
		r.Start, r.End, r.Bars, r.Trades, r.Wins, r.Losses, r.Warnings,
		r.StartEquity, r.EndEquity, r.NetPnL, r.ReturnPct, r.WinRate, r.ProfitFactor, r.MaxDDPct,
	)
	return err
}

// RecordTrade upserts a trade row; a trade recorded again replaces its
// earlier state.
func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO trades
		(run_id, trade_id, symbol, side, volume, open_price, close_price, open_time, close_time, bars, days, pnl, status, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.TradeID, t.Symbol, t.Side, t.Volume, t.OpenPrice, t.ClosePrice,
		t.OpenTime, t.CloseTime, t.Bars, t.Days, t.PnL, t.Status, t.Reason,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(run_id, time, bar, cash, equity, realized, unrealized, positions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Time, e.Bar, e.Cash, e.Equity, e.Realized, e.Unrealized, e.Positions,
	)
	return err
}

func (j *SQLite) RecordValues(r Record) error {
	data, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = j.db.Exec(`INSERT INTO records (run_id, bar, time, data) VALUES (?, ?, ?, ?)`,
		r.RunID, r.Bar, r.Time, string(data))
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
