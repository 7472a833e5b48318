package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rustyeddy/robusta/market"
)

var ErrNotFound = errors.New("not found")

const tradeColumns = `run_id, trade_id, symbol, side, volume, open_price, close_price, open_time, close_time, bars, days, pnl, status, reason`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (TradeRecord, error) {
	var rec TradeRecord
	err := s.Scan(&rec.RunID, &rec.TradeID, &rec.Symbol, &rec.Side, &rec.Volume,
		&rec.OpenPrice, &rec.ClosePrice, &rec.OpenTime, &rec.CloseTime,
		&rec.Bars, &rec.Days, &rec.PnL, &rec.Status, &rec.Reason)
	return rec, err
}

// GetTrade returns one trade of a run.
func (j *SQLite) GetTrade(runID, tradeID string) (TradeRecord, error) {
	row := j.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE run_id = ? AND trade_id = ?`, runID, tradeID)
	rec, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TradeRecord{}, fmt.Errorf("trade %q: %w", tradeID, ErrNotFound)
	}
	return rec, err
}

// ListTrades returns the trades of a run ordered by open time.
func (j *SQLite) ListTrades(runID string) ([]TradeRecord, error) {
	rows, err := j.db.Query(`SELECT `+tradeColumns+` FROM trades WHERE run_id = ? ORDER BY open_time ASC, trade_id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListEquity returns the equity curve of a run.
func (j *SQLite) ListEquity(runID string) ([]EquitySnapshot, error) {
	rows, err := j.db.Query(`
		SELECT run_id, time, bar, cash, equity, realized, unrealized, positions
		FROM equity WHERE run_id = ? ORDER BY bar ASC, time ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.RunID, &e.Time, &e.Bar, &e.Cash, &e.Equity, &e.Realized, &e.Unrealized, &e.Positions); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListRecords returns the strategy records of a run in bar order.
func (j *SQLite) ListRecords(runID string) ([]Record, error) {
	rows, err := j.db.Query(`SELECT run_id, bar, time, data FROM records WHERE run_id = ? ORDER BY bar ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var data string
		if err := rows.Scan(&r.RunID, &r.Bar, &r.Time, &data); err != nil {
			return nil, err
		}
		r.Data = map[string]market.Value{}
		if err := json.Unmarshal([]byte(data), &r.Data); err != nil {
			return nil, fmt.Errorf("decode record bar %d: %w", r.Bar, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun loads a run summary.
func (j *SQLite) GetRun(runID string) (Run, error) {
	row := j.db.QueryRow(`
		SELECT run_id, created, mode, market, data_type, assets, strategy, params,
		       start_time, end_time, bars, trades, wins, losses, warnings,
		       start_equity, end_equity, net_pnl, return_pct, win_rate, profit_factor, max_dd_pct
		FROM runs WHERE run_id = ?`, runID)

	var r Run
	var assets, params string
	err := row.Scan(&r.RunID, &r.Created, &r.Mode, &r.Market, &r.DataType, &assets, &r.Strategy, &params,
		&r.Start, &r.End, &r.Bars, &r.Trades, &r.Wins, &r.Losses, &r.Warnings,
		&r.StartEquity, &r.EndEquity, &r.NetPnL, &r.ReturnPct, &r.WinRate, &r.ProfitFactor, &r.MaxDDPct)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %q: %w", runID, ErrNotFound)
	}
	if err != nil {
		return Run{}, err
	}
	if assets != "" {
		r.Assets = strings.Split(assets, ",")
	}
	if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
		return Run{}, fmt.Errorf("decode params of run %q: %w", runID, err)
	}
	return r, nil
}

// ListRuns returns run IDs, newest first.
func (j *SQLite) ListRuns() ([]string, error) {
	rows, err := j.db.Query(`SELECT run_id FROM runs ORDER BY created DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ExportRunOrg loads a run with its trades and renders it as Org.
func (j *SQLite) ExportRunOrg(runID string) (string, error) {
	r, err := j.GetRun(runID)
	if err != nil {
		return "", err
	}
	trades, err := j.ListTrades(runID)
	if err != nil {
		return "", err
	}
	return FormatRunOrg(r, trades)
}
