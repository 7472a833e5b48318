package strategies

import "github.com/rustyeddy/robusta/engine"

// Noop does nothing. It is useful for measuring feed and journal throughput.
type Noop struct{}

func (Noop) Name() string                { return "noop" }
func (Noop) OnBar(*engine.Context) error { return nil }
