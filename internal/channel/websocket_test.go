package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func frameServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func waitWithTimeout(t *testing.T, fn func() error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for session")
		return nil
	}
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"ws://localhost:8765":         "ws://localhost:8765",
		" wss://example.com/frames ":  "wss://example.com/frames",
		"http://localhost:8765/video": "ws://localhost:8765/video",
		"https://example.com":         "wss://example.com",
	}
	for in, want := range cases {
		got, err := normalizeURL(in)
		if err != nil {
			t.Fatalf("normalizeURL(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("normalizeURL(%q) = %q, want %q", in, got, want)
		}
	}

	for _, bad := range []string{"", "ftp://host", "ws://", ":// bad"} {
		if _, err := normalizeURL(bad); !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("expected ErrInvalidURL for %q, got %v", bad, err)
		}
	}
}

func TestDialDeliversMessagesAndCleanClose(t *testing.T) {
	t.Parallel()

	server := frameServer(t, func(conn *websocket.Conn) {
		for _, msg := range []string{"one", "two", "three"} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_, _, _ = conn.ReadMessage()
	})

	session, err := NewClient(Config{}).Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	var got []string
	for msg := range session.Messages() {
		got = append(got, string(msg))
	}
	if strings.Join(got, ",") != "one,two,three" {
		t.Fatalf("unexpected messages: %v", got)
	}
	if err := waitWithTimeout(t, session.Wait); err != nil {
		t.Fatalf("expected clean close, got %v", err)
	}
}

func TestDialReportsAbnormalClosure(t *testing.T) {
	t.Parallel()

	server := frameServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("frame"))
		_ = conn.UnderlyingConn().Close()
	})

	session, err := NewClient(Config{}).Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	for range session.Messages() {
	}
	if err := waitWithTimeout(t, session.Wait); err == nil {
		t.Fatalf("expected read error after abnormal closure")
	}
}

func TestSessionCloseIsCleanAndIdempotent(t *testing.T) {
	t.Parallel()

	server := frameServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	session, err := NewClient(Config{}).Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := waitWithTimeout(t, session.Close); err != nil {
		t.Fatalf("expected nil on local close, got %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, ok := <-session.Messages(); ok {
		t.Fatalf("expected messages channel to be closed")
	}
}

func TestContextCancelClosesSession(t *testing.T) {
	t.Parallel()

	server := frameServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	session, err := NewClient(Config{}).Dial(ctx, wsURL(server))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	cancel()
	if err := waitWithTimeout(t, session.Wait); err != nil {
		t.Fatalf("expected clean close after cancel, got %v", err)
	}
}

func TestDialFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	if _, err := NewClient(Config{}).Dial(context.Background(), wsURL(server)); err == nil {
		t.Fatalf("expected dial error against a non-websocket endpoint")
	}
}
