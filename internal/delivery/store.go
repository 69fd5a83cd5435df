package delivery

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const (
	URLPrefix = "blob:framerecorder/"
	MIMEMP4   = "video/mp4"
)

var ErrNotFound = errors.New("object not found or revoked")

// Object is one stored downloadable payload.
type Object struct {
	Data     []byte
	MIMEType string
	Filename string
	Created  time.Time
}

// Store keeps result objects in memory behind revocable reference URLs.
type Store struct {
	clock clock.Clock

	mu      sync.RWMutex
	objects map[string]Object
}

func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{clock: clk, objects: map[string]Object{}}
}

// Create stores a copy of data and returns its reference URL.
func (s *Store) Create(data []byte, mimeType string, filename string) string {
	token := uuid.NewString()
	obj := Object{
		Data:     append([]byte(nil), data...),
		MIMEType: mimeType,
		Filename: filename,
		Created:  s.clock.Now().UTC(),
	}
	s.mu.Lock()
	s.objects[token] = obj
	s.mu.Unlock()
	return URLPrefix + token
}

func (s *Store) Open(url string) (Object, error) {
	token, ok := tokenFromURL(url)
	if !ok {
		return Object{}, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[token]
	if !ok {
		return Object{}, ErrNotFound
	}
	return obj, nil
}

// Revoke releases the object behind url. Unknown URLs are ignored.
func (s *Store) Revoke(url string) {
	token, ok := tokenFromURL(url)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.objects, token)
	s.mu.Unlock()
}

func (s *Store) RevokeAll() {
	s.mu.Lock()
	s.objects = map[string]Object{}
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func tokenFromURL(url string) (string, bool) {
	token, ok := strings.CutPrefix(url, URLPrefix)
	if !ok || token == "" {
		return "", false
	}
	return token, true
}
