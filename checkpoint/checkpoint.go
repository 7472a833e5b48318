// Package checkpoint saves and restores mid-run engine state as
// xz-compressed JSON so a run can resume without replaying earlier bars.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rustyeddy/robusta/ledger"
	"github.com/rustyeddy/robusta/market"
	"github.com/rustyeddy/robusta/series"
	"github.com/ulikunitz/xz"
)

// Version is bumped when State changes incompatibly.
const Version = 1

var ErrVersion = errors.New("checkpoint version mismatch")

// State is everything needed to continue a run after bar Bar.
type State struct {
	Version int       `json:"version"`
	RunID   string    `json:"run_id"`
	Saved   time.Time `json:"saved"`

	Origin   time.Time `json:"origin"` // session clock origin
	Bar      int       `json:"bar"`    // last completed run bar
	Day      int       `json:"day"`    // trading day of that bar
	LastTime time.Time `json:"last"`   // timestamp of that bar

	Ledger ledger.Snapshot         `json:"ledger"`
	Series series.Snapshot         `json:"series"`
	Vars   map[string]market.Value `json:"vars,omitempty"`
	Last   map[string]market.Bar   `json:"last_bars,omitempty"`
}

// Save writes s to path atomically.
func Save(path string, s State) error {
	s.Version = Version
	if s.Saved.IsZero() {
		s.Saved = time.Now().UTC()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw, err := xz.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(s); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// Load reads a checkpoint written by Save.
func Load(path string) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		return State{}, fmt.Errorf("checkpoint: %w", err)
	}
	defer f.Close()

	zr, err := xz.NewReader(f)
	if err != nil {
		return State{}, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	var s State
	if err := json.NewDecoder(zr).Decode(&s); err != nil {
		return State{}, fmt.Errorf("checkpoint %s: decode: %w", path, err)
	}
	if s.Version != Version {
		return State{}, fmt.Errorf("checkpoint %s: %w: got %d want %d", path, ErrVersion, s.Version, Version)
	}
	return s, nil
}
