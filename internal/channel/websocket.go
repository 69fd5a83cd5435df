package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"framerecorder/internal/ports"
)

var ErrInvalidURL = errors.New("frame channel URL must use ws:// or wss://")

// Config controls the frame socket client.
type Config struct {
	Headers         http.Header
	ReadLimit       int64
	MessageCapacity int
}

// Client implements ports.FrameChannel over a websocket.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewClient(cfg Config) *Client {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 32 << 20
	}
	if cfg.MessageCapacity <= 0 {
		cfg.MessageCapacity = 8
	}
	return &Client{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (c *Client) Dial(ctx context.Context, rawURL string) (ports.ChannelSession, error) {
	wsURL, err := normalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, c.cfg.Headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to frame channel: %w", err)
	}
	conn.SetReadLimit(c.cfg.ReadLimit)

	s := &session{
		conn:     conn,
		messages: make(chan []byte, c.cfg.MessageCapacity),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type session struct {
	conn *websocket.Conn

	messages chan []byte
	closing  chan struct{}
	done     chan struct{}

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

func (s *session) Messages() <-chan []byte {
	return s.messages
}

// Wait blocks until the session ends. It returns nil for a clean close from either side.
func (s *session) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *session) readLoop() {
	defer func() {
		close(s.messages)
		close(s.done)
		_ = s.conn.Close()
	}()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read frame: %w", err))
			return
		}
		if len(payload) == 0 {
			continue
		}
		select {
		case s.messages <- payload:
		case <-s.closing:
			return
		}
	}
}

func (s *session) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) setErr(err error) {
	if err == nil {
		return
	}
	select {
	case <-s.closing:
		return
	default:
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "https://") {
		raw = "wss://" + strings.TrimPrefix(raw, "https://")
	} else if strings.HasPrefix(raw, "http://") {
		raw = "ws://" + strings.TrimPrefix(raw, "http://")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", ErrInvalidURL
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return parsed.String(), nil
}
