package delivery

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"
)

func TestStoreCreateOpenRevoke(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	store := NewStore(mock)
	data := []byte("mp4")

	url := store.Create(data, MIMEMP4, "a.mp4")
	if !strings.HasPrefix(url, URLPrefix) {
		t.Fatalf("unexpected url: %q", url)
	}
	data[0] = 'X'

	obj, err := store.Open(url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(obj.Data) != "mp4" || obj.MIMEType != MIMEMP4 || obj.Filename != "a.mp4" {
		t.Fatalf("unexpected object: %+v", obj)
	}
	if !obj.Created.Equal(mock.Now()) {
		t.Fatalf("unexpected created time: %s", obj.Created)
	}

	other := store.Create([]byte("other"), MIMEMP4, "b.mp4")
	if other == url {
		t.Fatalf("urls must be unique")
	}

	store.Revoke(url)
	if _, err := store.Open(url); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
	store.Revoke(url)
	store.Revoke("https://example.com/x")

	store.RevokeAll()
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
	if _, err := store.Open(other); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after RevokeAll, got %v", err)
	}
}

type fakePreview struct {
	data []byte
	err  error
}

func (f fakePreview) EncodeJPEG(int) ([]byte, error) {
	return f.data, f.err
}

func TestHandlerServesRecordingAsAttachment(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	url := store.Create([]byte("movie"), MIMEMP4, "recorded_video_x.mp4")
	server := httptest.NewServer(NewHandler(store, nil))
	defer server.Close()

	resp, err := http.Get(server.URL + store.Path(url))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK || string(body) != "movie" {
		t.Fatalf("unexpected response: %d %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != MIMEMP4 {
		t.Fatalf("unexpected content type: %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "attachment; filename=recorded_video_x.mp4" {
		t.Fatalf("unexpected disposition: %q", cd)
	}

	store.Revoke(url)
	resp2, err := http.Get(server.URL + store.Path(url))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after revoke, got %d", resp2.StatusCode)
	}
}

func TestHandlerPreview(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NewHandler(NewStore(nil), fakePreview{data: []byte{0xff, 0xd8}}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preview/canvas.jpg", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("unexpected preview response: %d %v", rec.Code, rec.Header())
	}

	rec = httptest.NewRecorder()
	NewHandler(NewStore(nil), fakePreview{err: errors.New("boom")}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preview/canvas.jpg", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewHandler(NewStore(nil), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preview/canvas.jpg", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without preview source, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewHandler(NewStore(nil), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/preview/canvas.jpg", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestPath(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	if got := store.Path(URLPrefix + "abc"); got != "/recordings/abc" {
		t.Fatalf("unexpected path: %q", got)
	}
	if got := store.Path("blob:other/abc"); got != "" {
		t.Fatalf("expected empty path, got %q", got)
	}
}
