// Package live routes orders to an external transport with a timeout and a
// request rate limit.
package live

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/robusta/broker"
	"github.com/rustyeddy/robusta/internal/logging"
	"github.com/rustyeddy/robusta/ledger"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Transport places orders with the venue. PlaceOrder returns the fill known
// when the call returns; fills that arrive later go to Notices.
type Transport interface {
	PlaceOrder(ctx context.Context, req broker.OrderRequest) (ledger.Fill, error)
	Notices() <-chan broker.Notice
}

type Config struct {
	Rules broker.Rules
	// Timeout bounds every order call. Default 5s.
	Timeout time.Duration
	// RatePerSec limits order calls. Zero means unlimited.
	RatePerSec float64
	Burst      int
}

type Broker struct {
	cfg       Config
	transport Transport
	limiter   *rate.Limiter
	log       *logrus.Entry
}

var (
	_ broker.Broker   = (*Broker)(nil)
	_ broker.Notifier = (*Broker)(nil)
)

func New(cfg Config, t Transport, log logrus.FieldLogger) *Broker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Broker{
		cfg:       cfg,
		transport: t,
		limiter:   rate.NewLimiter(limit, burst),
		log:       logging.WithComponent(log, "live-broker"),
	}
}

func (b *Broker) RefineVolume(volume, price float64, symbol string) float64 {
	return b.cfg.Rules.RefineVolume(volume, price, symbol)
}

func (b *Broker) CanShort(symbol string) bool { return b.cfg.Rules.CanShort(symbol) }

func (b *Broker) CanClose(t ledger.Trade) bool { return b.cfg.Rules.CanClose(t) }

// Order sends req to the transport. A timeout or a cancelled wait for the
// rate limiter yields a zero fill and ErrBrokerUnavailable.
func (b *Broker) Order(ctx context.Context, req broker.OrderRequest) (ledger.Fill, error) {
	zero := ledger.Fill{Time: req.Time}
	req.Volume = math.Abs(req.Volume)
	if req.Intent != broker.IntentClose || !req.Full {
		req.Volume = b.RefineVolume(req.Volume, req.Price, req.Symbol)
	}
	if req.Volume <= 0 {
		return zero, fmt.Errorf("live order: %w: volume below lot for %q", broker.ErrOrderRejected, req.Symbol)
	}
	if req.Intent == broker.IntentOpen && req.Side == ledger.Sell && !b.CanShort(req.Symbol) {
		return zero, fmt.Errorf("live order: %w: %q is not shortable", broker.ErrOrderRejected, req.Symbol)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	if err := b.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("live order: %w: rate limit: %v", broker.ErrBrokerUnavailable, err)
	}

	start := time.Now()
	fill, err := b.transport.PlaceOrder(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			b.log.WithFields(logrus.Fields{
				"symbol":  req.Symbol,
				"elapsed": time.Since(start),
			}).Warn("order timed out")
			return zero, fmt.Errorf("live order: %w: %v", broker.ErrBrokerUnavailable, err)
		}
		return zero, fmt.Errorf("live order: %w", err)
	}
	if fill.Volume > req.Volume {
		fill.Volume = req.Volume
	}
	if fill.Time.IsZero() {
		fill.Time = req.Time
	}
	return fill, nil
}

func (b *Broker) Notices() <-chan broker.Notice { return b.transport.Notices() }
