// Package mockapi is an in-process fake of the ERP backend. It speaks the
// same envelope and auth protocol as the real API so the client, auth,
// portal and warm-up packages can be exercised end to end in tests and
// from `erpctl` against a local sandbox.
package mockapi

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Prefix is the versioned namespace every route lives under
const Prefix = "/api/v1"

// ValidMFACode is the one-time code the fake accepts for every user
const ValidMFACode = "123456"

// User is an account known to the fake backend
type User struct {
	ID                 string
	Email              string
	Password           string
	CompanyCode        string
	CompanyID          string
	DisplayName        string
	Roles              []string
	MFAEnabled         bool
	MustChangePassword bool
	SuperAdmin         bool
}

// RecordedRequest is one request observed by the fake
type RecordedRequest struct {
	Method string
	// Path is relative to Prefix
	Path   string
	Query  string
	Header http.Header
	Body   []byte
	At     time.Time
}

// Server is the fake ERP backend
type Server struct {
	engine *gin.Engine
	http   *httptest.Server
	secret []byte

	mu            sync.Mutex
	users         map[string]*User  // by email
	accessTokens  map[string]string // token -> email
	refreshTokens map[string]string // token -> email
	resetTokens   map[string]string // token -> email
	pendingMFA    map[string]string // email -> secret
	replays       map[string]cachedResponse
	overrides     map[string]gin.HandlerFunc
	requests      []RecordedRequest
	collections   map[string][]map[string]any
	settings      map[string]any

	refreshDelay   time.Duration
	refreshFails   bool
	rotateRefresh  bool
	accessLifetime time.Duration

	refreshCount atomic.Int64
	loginCount   atomic.Int64
}

type cachedResponse struct {
	status int
	body   any
}

// Option configures a Server
type Option func(*Server)

// WithUsers seeds accounts
func WithUsers(users ...User) Option {
	return func(s *Server) {
		for _, u := range users {
			s.AddUser(u)
		}
	}
}

// WithRotatingRefreshTokens makes every refresh issue a new refresh token
func WithRotatingRefreshTokens() Option {
	return func(s *Server) { s.rotateRefresh = true }
}

// WithSeed fills the domain collections with deterministic fake data
func WithSeed(seed uint64, dealers int) Option {
	return func(s *Server) { s.seed(seed, dealers) }
}

// New creates an unstarted fake. Use Start or Handler.
func New(opts ...Option) *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		engine:         gin.New(),
		secret:         []byte("mockapi-signing-secret"),
		users:          make(map[string]*User),
		accessTokens:   make(map[string]string),
		refreshTokens:  make(map[string]string),
		resetTokens:    make(map[string]string),
		pendingMFA:     make(map[string]string),
		replays:        make(map[string]cachedResponse),
		overrides:      make(map[string]gin.HandlerFunc),
		collections:    make(map[string][]map[string]any),
		settings:       defaultSettings(),
		accessLifetime: 15 * time.Minute,
	}
	s.engine.Use(gin.Recovery(), s.record, s.override)
	s.routes()

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates and starts a fake listening on a loopback port
func Start(opts ...Option) *Server {
	s := New(opts...)
	s.http = httptest.NewServer(s.engine)
	return s
}

// Close stops the listener started by Start
func (s *Server) Close() {
	if s.http != nil {
		s.http.Close()
	}
}

// URL returns the API root (listener URL plus Prefix)
func (s *Server) URL() string {
	if s.http == nil {
		return ""
	}
	return s.http.URL + Prefix
}

// Handler exposes the router, e.g. for mounting under a real listener
func (s *Server) Handler() http.Handler {
	return s.engine
}

// AddUser registers or replaces an account
func (s *Server) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = newID()
	}
	if u.CompanyID == "" {
		u.CompanyID = newID()
	}
	if len(u.Roles) == 0 {
		u.Roles = []string{"user"}
	}
	s.users[strings.ToLower(u.Email)] = &u
}

// ExpireAccessTokens revokes every issued access token, so the next
// authenticated request gets a 401
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens = make(map[string]string)
}

// RevokeRefreshTokens revokes every issued refresh token
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = make(map[string]string)
}

// SetRefreshDelay slows down the refresh endpoint
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// SetRefreshFailure makes the refresh endpoint reject every token
func (s *Server) SetRefreshFailure(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshFails = fail
}

// Override replaces the handler for method+path (path relative to Prefix).
// A nil handler removes the override.
func (s *Server) Override(method, path string, handler gin.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	if handler == nil {
		delete(s.overrides, key)
		return
	}
	s.overrides[key] = handler
}

// RefreshCount is the number of refresh-token calls received
func (s *Server) RefreshCount() int {
	return int(s.refreshCount.Load())
}

// LoginCount is the number of login calls received
func (s *Server) LoginCount() int {
	return int(s.loginCount.Load())
}

// ResetTokenFor returns the last password reset token mailed to email
func (s *Server) ResetTokenFor(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, owner := range s.resetTokens {
		if owner == strings.ToLower(email) {
			return token
		}
	}
	return ""
}

// Requests returns a snapshot of every recorded request
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// RequestsTo returns the recorded requests for method+path
func (s *Server) RequestsTo(method, path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// User returns a copy of the account registered under email
func (s *Server) User(email string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return User{}, false
	}
	return *u, true
}

func (s *Server) record(c *gin.Context) {
	var body []byte
	if c.Request.Body != nil {
		body, _ = io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
	}
	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method: c.Request.Method,
		Path:   strings.TrimPrefix(c.Request.URL.Path, Prefix),
		Query:  c.Request.URL.RawQuery,
		Header: c.Request.Header.Clone(),
		Body:   body,
		At:     time.Now(),
	})
	s.mu.Unlock()
	c.Next()
}

func (s *Server) override(c *gin.Context) {
	key := c.Request.Method + " " + strings.TrimPrefix(c.Request.URL.Path, Prefix)
	s.mu.Lock()
	handler, ok := s.overrides[key]
	s.mu.Unlock()
	if !ok {
		c.Next()
		return
	}
	handler(c)
	c.Abort()
}
