package journal

import (
	"encoding/csv"
	"errors"
	"os"
	"sort"
	"strconv"
	"time"
)

// CSVJournal writes trades and equity to two files and, when a records path
// is given, strategy records in long format (one row per key).
type CSVJournal struct {
	trades  *csv.Writer
	equity  *csv.Writer
	records *csv.Writer
	files   []*os.File
}

var (
	tradeHeader  = []string{"run_id", "trade_id", "symbol", "side", "volume", "open_price", "close_price", "open_time", "close_time", "bars", "days", "pnl", "status", "reason"}
	equityHeader = []string{"run_id", "time", "bar", "cash", "equity", "realized", "unrealized", "positions"}
	recordHeader = []string{"run_id", "bar", "time", "key", "value"}
)

func NewCSV(tradesPath, equityPath, recordsPath string) (*CSVJournal, error) {
	j := &CSVJournal{}
	var err error
	if j.trades, err = j.create(tradesPath, tradeHeader); err != nil {
		j.Close()
		return nil, err
	}
	if j.equity, err = j.create(equityPath, equityHeader); err != nil {
		j.Close()
		return nil, err
	}
	if recordsPath != "" {
		if j.records, err = j.create(recordsPath, recordHeader); err != nil {
			j.Close()
			return nil, err
		}
	}
	return j, nil
}

func (j *CSVJournal) create(path string, header []string) (*csv.Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	j.files = append(j.files, f)
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	w.Flush()
	return w, w.Error()
}

func (j *CSVJournal) RecordTrade(t TradeRecord) error {
	return write(j.trades, []string{
		t.RunID,
		t.TradeID,
		t.Symbol,
		t.Side,
		f(t.Volume),
		f(t.OpenPrice),
		f(t.ClosePrice),
		ts(t.OpenTime),
		ts(t.CloseTime),
		strconv.Itoa(t.Bars),
		strconv.Itoa(t.Days),
		f(t.PnL),
		t.Status,
		t.Reason,
	})
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	return write(j.equity, []string{
		e.RunID,
		ts(e.Time),
		strconv.Itoa(e.Bar),
		f(e.Cash),
		f(e.Equity),
		f(e.Realized),
		f(e.Unrealized),
		strconv.Itoa(e.Positions),
	})
}

func (j *CSVJournal) RecordValues(r Record) error {
	if j.records == nil {
		return nil
	}
	keys := make([]string, 0, len(r.Data))
	for k := range r.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := j.records.Write([]string{r.RunID, strconv.Itoa(r.Bar), ts(r.Time), k, r.Data[k].String()}); err != nil {
			return err
		}
	}
	j.records.Flush()
	return j.records.Error()
}

func (j *CSVJournal) Close() error {
	var errs []error
	for _, w := range []*csv.Writer{j.trades, j.equity, j.records} {
		if w != nil {
			w.Flush()
			errs = append(errs, w.Error())
		}
	}
	for _, fh := range j.files {
		errs = append(errs, fh.Close())
	}
	return errors.Join(errs...)
}

func write(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
