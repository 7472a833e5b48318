// Package strategies holds the built-in strategies and the registry the CLI
// resolves strategy names through.
package strategies

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rustyeddy/robusta/engine"
	"github.com/rustyeddy/robusta/market"
)

// Factory builds a strategy from the run parameters.
type Factory func(params map[string]any) (engine.Strategy, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

func init() {
	Register("noop", func(map[string]any) (engine.Strategy, error) { return Noop{}, nil })
	Register("buy-hold", func(map[string]any) (engine.Strategy, error) { return &BuyHold{}, nil })
	Register("ema-cross", NewEMACross)
}

// Register adds or replaces a named strategy. Names are case-insensitive.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[normalize(name)] = f
}

// New builds the strategy registered under name.
func New(name string, params map[string]any) (engine.Strategy, error) {
	mu.RLock()
	f, ok := registry[normalize(name)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return f(params)
}

// Names lists the registered strategies in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func intParam(params map[string]any, name string, def int) (int, error) {
	raw, ok := params[name]
	if !ok {
		return def, nil
	}
	v, err := market.FromAny(raw)
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", name, err)
	}
	f, ok := v.Float()
	if !ok || f != float64(int(f)) {
		return 0, fmt.Errorf("param %s: want an integer, got %v", name, raw)
	}
	return int(f), nil
}

func floatParam(params map[string]any, name string, def float64) (float64, error) {
	raw, ok := params[name]
	if !ok {
		return def, nil
	}
	v, err := market.FromAny(raw)
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", name, err)
	}
	f, ok := v.Float()
	if !ok {
		return 0, fmt.Errorf("param %s: want a number, got %v", name, raw)
	}
	return f, nil
}
