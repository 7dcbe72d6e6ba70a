package page

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/infrastructure/logging"
)

// Loader fetches the target page's HTML. Implemented by the boundary client;
// injected late because the client needs this session's cookie jar first.
type Loader interface {
	FetchPage(ctx context.Context) (string, error)
}

// Session owns the agent's identity on the target service: the cookie jar,
// the last captured page document, and a small key-value store standing in
// for page-local storage. All methods are safe for concurrent use.
type Session struct {
	base *url.URL
	jar  http.CookieJar
	log  *logging.Logger

	mu         sync.RWMutex
	loader     Loader
	html       string
	capturedAt time.Time
	storage    map[string]string
	reloads    int
}

// NewSession creates a session rooted at the target base URL.
func NewSession(baseURL string, log *logging.Logger) (*Session, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Session{
		base:    base,
		jar:     jar,
		log:     log,
		storage: make(map[string]string),
	}, nil
}

// Jar exposes the cookie jar for the boundary client.
func (s *Session) Jar() http.CookieJar { return s.jar }

// BaseURL returns the target origin.
func (s *Session) BaseURL() *url.URL { return s.base }

// AttachLoader wires in the page fetcher after client construction.
func (s *Session) AttachLoader(l Loader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loader = l
}

// Capture fetches the page fresh, normalizes it to UTF-8, and caches it.
func (s *Session) Capture(ctx context.Context) (string, error) {
	s.mu.RLock()
	loader := s.loader
	s.mu.RUnlock()

	if loader == nil {
		return "", fmt.Errorf("no page loader attached")
	}

	html, err := loader.FetchPage(ctx)
	if err != nil {
		return "", fmt.Errorf("page capture failed: %w", err)
	}
	html = NormalizeUTF8([]byte(html))

	s.mu.Lock()
	s.html = html
	s.capturedAt = time.Now()
	s.mu.Unlock()

	s.log.Debug("page captured", zap.Int("bytes", len(html)))
	return html, nil
}

// HTML returns the cached document, capturing one if none exists yet.
func (s *Session) HTML(ctx context.Context) (string, error) {
	s.mu.RLock()
	cached := s.html
	s.mu.RUnlock()

	if cached != "" {
		return cached, nil
	}
	return s.Capture(ctx)
}

// CachedHTML returns the cached document without fetching. Empty when no
// capture has happened since the last reload.
func (s *Session) CachedHTML() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.html
}

// CapturedAt reports when the cached document was fetched.
func (s *Session) CapturedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capturedAt
}

// Reload drops the cached document and fetches the page again. This is the
// full-reload primitive recovery and authentication rely on.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	s.html = ""
	s.reloads++
	n := s.reloads
	s.mu.Unlock()

	s.log.Info("reloading page session", zap.Int("reload", n))
	_, err := s.Capture(ctx)
	return err
}

// Reloads counts completed Reload calls, including failed captures.
func (s *Session) Reloads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reloads
}

// HasCookie reports whether a cookie with the given name would be sent to
// the target origin. This is the credential-artifact check.
func (s *Session) HasCookie(name string) bool {
	for _, c := range s.jar.Cookies(s.base) {
		if c.Name == name && c.Value != "" {
			return true
		}
	}
	return false
}

// SetCookie writes one cookie into the jar for the target origin.
func (s *Session) SetCookie(c *http.Cookie) {
	s.jar.SetCookies(s.base, []*http.Cookie{c})
}

// WipeCookies expires every cookie visible to the target origin, issuing
// expirations for both the exact host and the parent domain scope so
// domain-wide cookies cannot survive a recovery wipe.
func (s *Session) WipeCookies() {
	existing := s.jar.Cookies(s.base)
	if len(existing) == 0 {
		return
	}

	parent := parentDomain(s.base.Hostname())
	expired := make([]*http.Cookie, 0, len(existing)*2)
	for _, c := range existing {
		expired = append(expired,
			&http.Cookie{Name: c.Name, Value: "", Path: "/", MaxAge: -1},
			&http.Cookie{Name: c.Name, Value: "", Path: "/", Domain: parent, MaxAge: -1},
		)
	}
	s.jar.SetCookies(s.base, expired)

	s.log.Info("wiped session cookies",
		zap.Int("count", len(existing)),
		zap.String("parent_domain", parent))
}

// Remember stores a session-scoped value (the page-local storage analog).
func (s *Session) Remember(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage[key] = value
}

// Recall reads a session-scoped value.
func (s *Session) Recall(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.storage[key]
	return v, ok
}

// ClearStorage empties the session key-value store.
func (s *Session) ClearStorage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage = make(map[string]string)
}

// Wipe clears everything identifying this session: cookies in both scopes,
// the key-value store, and the cached document.
func (s *Session) Wipe() {
	s.WipeCookies()
	s.mu.Lock()
	s.storage = make(map[string]string)
	s.html = ""
	s.mu.Unlock()
}

// parentDomain returns the registrable parent scope: the last two labels of
// the host ("alpha.arena.example" -> "arena.example").
func parentDomain(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}
