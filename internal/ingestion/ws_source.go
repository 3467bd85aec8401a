package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures the WebSocket source.
type WSConfig struct {
	ReconnectDelay    time.Duration // Initial reconnect delay (default: 1s)
	MaxReconnectDelay time.Duration // Max reconnect delay (default: 30s)
	PingInterval      time.Duration // Ping interval (default: 30s)
	ReadTimeout       time.Duration // Read timeout (default: 60s)
	WriteTimeout      time.Duration // Write timeout (default: 10s)
	Logger            *log.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() *WSConfig {
	return &WSConfig{
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// wsEnvelope wraps a topic message pushed over the socket.
type wsEnvelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// WSSource receives topic messages pushed by an upstream gateway over
// WebSocket. The connection is re-established with exponential backoff.
type WSSource struct {
	url    string
	config *WSConfig
	logger *log.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ Source = (*WSSource)(nil)

// NewWSSource creates a WebSocket source for url. The connection is opened by Subscribe.
func NewWSSource(url string, config *WSConfig) *WSSource {
	if config == nil {
		config = DefaultWSConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &WSSource{
		url:    url,
		config: config,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Subscribe connects and starts delivering messages. A failure of the initial
// connection is returned; later failures trigger reconnects.
func (s *WSSource) Subscribe(ctx context.Context) (<-chan Message, error) {
	if s.closed.Load() {
		return nil, errors.New("ws: source closed")
	}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	out := make(chan Message, 100)
	s.wg.Add(2)
	go s.readLoop(ctx, out)
	go s.pingLoop()

	// Unblock a pending read when ctx ends.
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return out, nil
}

// Close closes the connection and stops the background loops.
func (s *WSSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *WSSource) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.connMu.Unlock()
	return nil
}

// readLoop reads envelopes and forwards them until the source is closed or ctx ends.
func (s *WSSource) readLoop(ctx context.Context, out chan<- Message) {
	defer s.wg.Done()
	defer close(out)

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() && ctx.Err() == nil {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			if !s.reconnect(ctx, &reconnectDelay) {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || ctx.Err() != nil {
				return
			}
			s.logger.Printf("ws read: %v", err)
			s.dropConn(conn)
			continue
		}

		// Reset delay on successful read
		reconnectDelay = s.config.ReconnectDelay

		select {
		case out <- s.toMessage(raw):
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// reconnect waits for delay, then dials once. The delay doubles up to the
// configured maximum. Returns false when the source should stop.
func (s *WSSource) reconnect(ctx context.Context, delay *time.Duration) bool {
	select {
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(*delay):
	}

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := s.connect(dialCtx)
	cancel()
	if err != nil {
		s.logger.Printf("ws reconnect after %v: %v", *delay, err)
		*delay *= 2
		if *delay > s.config.MaxReconnectDelay {
			*delay = s.config.MaxReconnectDelay
		}
		return true
	}
	s.logger.Printf("ws reconnected to %s", s.url)
	return true
}

func (s *WSSource) dropConn(conn *websocket.Conn) {
	s.connMu.Lock()
	if s.conn == conn {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}

// toMessage unwraps an envelope. An undecodable envelope yields a message with
// no topic, which the decoder rejects as malformed.
func (s *WSSource) toMessage(raw []byte) Message {
	msg := Message{Payload: raw, ReceivedAt: time.Now()}
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err == nil {
		msg.Topic = env.Topic
		msg.Payload = env.Payload
	}
	return msg
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (s *WSSource) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				// A failed ping surfaces as a read error; the reader reconnects.
				_ = s.conn.WriteMessage(websocket.PingMessage, nil)
			}
			s.connMu.Unlock()
		}
	}
}
