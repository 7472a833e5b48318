package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rustyeddy/robusta/market"
)

// HTTPStream reads a newline-delimited JSON bar stream from a long-lived
// HTTP response. Lines look like {"type":"BAR","bar":{...}}; HEARTBEAT lines
// and unknown types are skipped.
type HTTPStream struct {
	body   io.ReadCloser
	sc     *bufio.Scanner
	filter filter
	fields []string
}

type streamMsg struct {
	Type string     `json:"type"`
	Bar  market.Bar `json:"bar"`
}

// OpenHTTP issues a GET against url with an optional bearer token.
func OpenHTTP(ctx context.Context, client *http.Client, url, token string, key Key) (*HTTPStream, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, fmt.Errorf("bar stream http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	sc := bufio.NewScanner(resp.Body)
	// Bars with many fields can be long.
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	return &HTTPStream{
		body:   resp.Body,
		sc:     sc,
		filter: newFilter(key),
		fields: market.ParseBarFields(key.BarFields),
	}, nil
}

func (s *HTTPStream) Next(ctx context.Context) (market.Bar, bool, error) {
	for s.sc.Scan() {
		if err := ctx.Err(); err != nil {
			return market.Bar{}, false, err
		}
		line := strings.TrimSpace(s.sc.Text())
		if line == "" {
			continue
		}
		var msg streamMsg
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return market.Bar{}, false, fmt.Errorf("bar stream: bad json: %w (line=%q)", err, trimForErr(line))
		}
		if !strings.EqualFold(msg.Type, "BAR") {
			continue
		}
		if msg.Bar.Symbol == "" || !s.filter.keep(msg.Bar) {
			continue
		}
		return project(msg.Bar, s.fields), true, nil
	}
	if err := s.sc.Err(); err != nil {
		if ctx.Err() != nil {
			return market.Bar{}, false, ctx.Err()
		}
		return market.Bar{}, false, err
	}
	return market.Bar{}, false, nil
}

func (s *HTTPStream) Close() error { return s.body.Close() }

func trimForErr(s string) string {
	const n = 200
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
