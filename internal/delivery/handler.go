package delivery

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"strings"
)

// PreviewSource renders the live canvas preview.
type PreviewSource interface {
	EncodeJPEG(quality int) ([]byte, error)
}

// Handler serves stored recordings and the live canvas preview.
type Handler struct {
	store   *Store
	preview PreviewSource
}

func NewHandler(store *Store, preview PreviewSource) *Handler {
	return &Handler{store: store, preview: preview}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch {
	case r.URL.Path == "/preview/canvas.jpg":
		h.servePreview(w, r)
	case strings.HasPrefix(r.URL.Path, "/recordings/"):
		h.serveRecording(w, r, strings.TrimPrefix(r.URL.Path, "/recordings/"))
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) servePreview(w http.ResponseWriter, r *http.Request) {
	if h.preview == nil {
		http.NotFound(w, r)
		return
	}
	data, err := h.preview.EncodeJPEG(80)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to render preview: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func (h *Handler) serveRecording(w http.ResponseWriter, r *http.Request, token string) {
	obj, err := h.store.Open(URLPrefix + token)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", obj.MIMEType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": obj.Filename}))
	http.ServeContent(w, r, obj.Filename, obj.Created, bytes.NewReader(obj.Data))
}

// Path returns the handler path serving url, or "" when url is not a store reference.
func (s *Store) Path(url string) string {
	token, ok := tokenFromURL(url)
	if !ok {
		return ""
	}
	return "/recordings/" + token
}
