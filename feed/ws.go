package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rustyeddy/robusta/internal/logging"
	"github.com/rustyeddy/robusta/market"
	"github.com/sirupsen/logrus"
)

// WSStream reads JSON bars from a websocket and hands them to the engine
// through a Queue. Each message is one bar in its JSON encoding. Bars that
// arrive while the queue is full are dropped and logged.
type WSStream struct {
	conn   *websocket.Conn
	queue  *Queue
	filter filter
	log    *logrus.Entry

	mu      sync.Mutex
	err     error
	done    chan struct{}
	dropped int
}

// DialWS connects to url and starts the reader goroutine.
func DialWS(ctx context.Context, url string, key Key, capacity int, log logrus.FieldLogger) (*WSStream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	if log == nil {
		log = logging.Discard()
	}
	s := &WSStream{
		conn:   conn,
		queue:  NewQueue(capacity),
		filter: newFilter(key),
		log:    logging.WithComponent(log, "ws-feed").WithField("url", url),
		done:   make(chan struct{}),
	}
	go s.read()
	return s, nil
}

func (s *WSStream) read() {
	defer close(s.done)
	defer s.queue.Close()
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.setErr(err)
			}
			return
		}
		var b market.Bar
		if err := json.Unmarshal(msg, &b); err != nil {
			s.log.WithError(err).Warn("bad bar message")
			continue
		}
		if b.Symbol == "" || b.Time.IsZero() || !s.filter.keep(b) {
			continue
		}
		if err := s.queue.TryPublish(b); err != nil {
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			s.log.WithField("symbol", b.Symbol).Warn("queue full, dropping bar")
		}
	}
}

func (s *WSStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Next returns queued bars; after the connection ends it reports the read
// error, if any.
func (s *WSStream) Next(ctx context.Context) (market.Bar, bool, error) {
	b, ok, err := s.queue.Next(ctx)
	if err != nil || ok {
		return b, ok, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return market.Bar{}, false, s.err
}

// Dropped counts bars lost to a full queue.
func (s *WSStream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *WSStream) Close() error {
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := s.conn.Close()
	<-s.done
	return err
}
