package live

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rustyeddy/robusta/broker"
	"github.com/rustyeddy/robusta/ledger"
)

// HTTPTransport posts orders as JSON to BaseURL + "/v1/orders" with a bearer
// token. The venue answers with the synchronous part of the fill.
type HTTPTransport struct {
	BaseURL string
	Token   string
	HTTP    *http.Client

	notices chan broker.Notice
}

func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		notices: make(chan broker.Notice, 64),
	}
}

// BaseURL maps an environment name to an endpoint.
func BaseURL(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "paper", "practice", "demo":
		return "https://paper.robusta.local", nil
	case "live":
		return "", errors.New("live trading endpoint must be set explicitly")
	default:
		if u, err := url.Parse(env); err == nil && u.Scheme != "" && u.Host != "" {
			return env, nil
		}
		return "", fmt.Errorf("unknown broker env %q (want paper|<url>)", env)
	}
}

type orderBody struct {
	ClientID string  `json:"client_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Volume   float64 `json:"volume"`
	Intent   string  `json:"intent"`
	TradeID  string  `json:"trade_id,omitempty"`
}

type orderReply struct {
	Status string    `json:"status"` // filled|partial|pending|rejected
	Volume float64   `json:"volume"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"time"`
	Reason string    `json:"reason"`
}

func (c *HTTPTransport) PlaceOrder(ctx context.Context, req broker.OrderRequest) (ledger.Fill, error) {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	body, err := json.Marshal(orderBody{
		ClientID: req.ClientID,
		Symbol:   req.Symbol,
		Side:     string(req.Side),
		Volume:   req.Volume,
		Intent:   string(req.Intent),
		TradeID:  req.TradeID,
	})
	if err != nil {
		return ledger.Fill{}, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return ledger.Fill{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		hreq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := httpClient.Do(hreq)
	if err != nil {
		return ledger.Fill{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return ledger.Fill{}, fmt.Errorf("%w: http %d: %s", broker.ErrBrokerUnavailable, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var reply orderReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return ledger.Fill{}, fmt.Errorf("decode order reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK || reply.Status == "rejected" {
		return ledger.Fill{}, fmt.Errorf("%w: %s", broker.ErrOrderRejected, reply.Reason)
	}
	return ledger.Fill{Volume: reply.Volume, Price: reply.Price, Time: reply.Time}, nil
}

// Deliver queues a late fill reported out of band, e.g. by a webhook.
// It drops the notice when the queue is full.
func (c *HTTPTransport) Deliver(n broker.Notice) bool {
	select {
	case c.notices <- n:
		return true
	default:
		return false
	}
}

func (c *HTTPTransport) Notices() <-chan broker.Notice { return c.notices }
