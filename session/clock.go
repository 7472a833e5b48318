// Package session maps timestamps onto trading sessions and bar indices.
package session

import (
	"errors"
	"fmt"
	"time"
)

// MinutesPerDay is the bar period of daily bars.
const MinutesPerDay = 1440

// ErrInvalid marks a session configuration that cannot be used.
var ErrInvalid = errors.New("invalid session")

// Phase classifies a timestamp relative to the trading session.
type Phase uint8

const (
	NonTradingDay Phase = iota
	PreMarket
	InSession
	InBreak
	PostMarket
)

func (p Phase) String() string {
	switch p {
	case PreMarket:
		return "pre-market"
	case InSession:
		return "in-session"
	case InBreak:
		return "in-break"
	case PostMarket:
		return "post-market"
	default:
		return "non-trading-day"
	}
}

// Config describes session boundaries in minutes from midnight UTC.
// StartBreak == EndBreak means the session has no lunch break.
type Config struct {
	StartMarket    int
	StartBreak     int
	EndBreak       int
	EndMarket      int
	BarPeriod      int // minutes; 1440 for daily bars
	BarOffset      int // minutes; phase of the bar grid (daily bar stamp)
	DayOffset      time.Duration
	WeekendTrading bool
}

// Validate reports the first inconsistent boundary.
func (c Config) Validate() error {
	switch {
	case c.BarPeriod <= 0 || c.BarPeriod > MinutesPerDay:
		return fmt.Errorf("%w: bar period %d outside (0,%d]", ErrInvalid, c.BarPeriod, MinutesPerDay)
	case c.StartMarket < 0 || c.EndMarket > MinutesPerDay:
		return fmt.Errorf("%w: market minutes must lie within a day", ErrInvalid)
	case c.StartMarket >= c.EndMarket:
		return fmt.Errorf("%w: start market %d >= end market %d", ErrInvalid, c.StartMarket, c.EndMarket)
	case c.hasBreak() && (c.StartBreak < c.StartMarket || c.EndBreak > c.EndMarket || c.StartBreak > c.EndBreak):
		return fmt.Errorf("%w: break [%d,%d) outside market [%d,%d)", ErrInvalid,
			c.StartBreak, c.EndBreak, c.StartMarket, c.EndMarket)
	case c.BarOffset < 0 || c.BarOffset >= MinutesPerDay:
		return fmt.Errorf("%w: bar offset %d outside [0,%d)", ErrInvalid, c.BarOffset, MinutesPerDay)
	}
	return nil
}

func (c Config) hasBreak() bool { return c.StartBreak != c.EndBreak }

// Daily reports whether bars are one per trading day.
func (c Config) Daily() bool { return c.BarPeriod >= MinutesPerDay }

// Slot is the position of a timestamp on the run's bar grid.
type Slot struct {
	Phase Phase
	Day   int // trading days since the clock origin
	Bar   int // bar number within the day, -1 outside the session
	Index int // Day*BarsPerDay + Bar, -1 outside the session
}

// Tradable reports whether a bar at this slot may be processed.
func (s Slot) Tradable() bool { return s.Phase == InSession }

// Clock converts timestamps to bar indices relative to an origin date.
type Clock struct {
	cfg        Config
	origin     time.Time
	barsPerDay int
}

// New builds a clock. The origin is truncated to its UTC day.
func New(cfg Config, origin time.Time) (*Clock, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Clock{cfg: cfg, origin: dayStart(origin.UTC())}
	if cfg.Daily() {
		c.barsPerDay = 1
	} else {
		c.barsPerDay = c.barOfDay(cfg.EndMarket-1) + 1
	}
	return c, nil
}

func (c *Clock) Config() Config { return c.cfg }

func (c *Clock) BarsPerDay() int { return c.barsPerDay }

func (c *Clock) Origin() time.Time { return c.origin }

// Locate classifies t and computes its bar index. Boundaries are start-inclusive
// and end-exclusive, so a timestamp on a boundary belongs to the opening phase.
func (c *Clock) Locate(t time.Time) Slot {
	t = t.UTC().Add(c.cfg.DayOffset)
	day := dayStart(t)
	if !c.cfg.WeekendTrading && isWeekend(day) {
		return Slot{Phase: NonTradingDay, Day: c.tradingDays(day), Bar: -1, Index: -1}
	}
	d := c.tradingDays(day)

	if c.cfg.Daily() {
		return Slot{Phase: InSession, Day: d, Bar: 0, Index: d}
	}

	minute := int(t.Sub(day) / time.Minute)
	phase := c.phase(minute)
	if phase != InSession {
		return Slot{Phase: phase, Day: d, Bar: -1, Index: -1}
	}
	bar := c.barOfDay(minute)
	return Slot{Phase: phase, Day: d, Bar: bar, Index: d*c.barsPerDay + bar}
}

// BarTime returns the opening time of the given bar of a trading day offset.
// For daily bars this is the day at BarOffset.
func (c *Clock) BarTime(slot Slot) time.Time {
	day := c.dayAt(slot.Day)
	var minute int
	if c.cfg.Daily() {
		minute = c.cfg.BarOffset
	} else {
		first := floorDiv(c.cfg.StartMarket-c.cfg.BarOffset, c.cfg.BarPeriod)
		minute = (first+slot.Bar)*c.cfg.BarPeriod + c.cfg.BarOffset
		if minute < c.cfg.StartMarket {
			minute = c.cfg.StartMarket
		}
	}
	return day.Add(time.Duration(minute)*time.Minute - c.cfg.DayOffset)
}

func (c *Clock) phase(minute int) Phase {
	switch {
	case minute < c.cfg.StartMarket:
		return PreMarket
	case minute >= c.cfg.EndMarket:
		return PostMarket
	case c.cfg.hasBreak() && minute >= c.cfg.StartBreak && minute < c.cfg.EndBreak:
		return InBreak
	}
	return InSession
}

// barOfDay numbers bar-grid cells from the one containing the market open.
func (c *Clock) barOfDay(minute int) int {
	p, off := c.cfg.BarPeriod, c.cfg.BarOffset
	return floorDiv(minute-off, p) - floorDiv(c.cfg.StartMarket-off, p)
}

// tradingDays counts trading days from the origin up to (excluding) day.
// Days before the origin count negatively.
func (c *Clock) tradingDays(day time.Time) int {
	if c.cfg.WeekendTrading {
		return int(day.Sub(c.origin).Hours() / 24)
	}
	if day.Before(c.origin) {
		return -weekdaysBetween(day, c.origin)
	}
	return weekdaysBetween(c.origin, day)
}

func (c *Clock) dayAt(n int) time.Time {
	if c.cfg.WeekendTrading {
		return c.origin.AddDate(0, 0, n)
	}
	d := c.origin
	for isWeekend(d) {
		d = d.AddDate(0, 0, 1)
	}
	for n > 0 {
		d = d.AddDate(0, 0, 1)
		if !isWeekend(d) {
			n--
		}
	}
	return d
}

// weekdaysBetween counts Monday-Friday days in [from, to).
func weekdaysBetween(from, to time.Time) int {
	days := int(to.Sub(from).Hours() / 24)
	weeks := days / 7
	n := weeks * 5
	d := from.AddDate(0, 0, weeks*7)
	for d.Before(to) {
		if !isWeekend(d) {
			n++
		}
		d = d.AddDate(0, 0, 1)
	}
	return n
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
