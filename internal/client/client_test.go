package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/erp/portal/internal/client"
	"github.com/erp/portal/internal/event"
	"github.com/erp/portal/internal/mockapi"
	"github.com/erp/portal/internal/session"
	"github.com/erp/portal/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"
)

const (
	testEmail    = "ada@acme.test"
	testPassword = "correct-horse"
)

type echo struct {
	Method         string `json:"method"`
	Query          string `json:"query"`
	Authorization  string `json:"authorization"`
	CompanyID      string `json:"companyId"`
	CompanyCode    string `json:"companyCode"`
	IdempotencyKey string `json:"idempotencyKey"`
	ContentType    string `json:"contentType"`
	Body           string `json:"body"`
}

type fixture struct {
	api      *mockapi.Server
	client   *client.Client
	sessions *session.Manager
	kv       *storage.MemoryKV

	mu      sync.Mutex
	expired []event.AuthExpired
}

func newFixture(t *testing.T, apiOpts []mockapi.Option, clientOpts ...client.Option) *fixture {
	t.Helper()

	apiOpts = append([]mockapi.Option{mockapi.WithUsers(mockapi.User{
		Email:       testEmail,
		Password:    testPassword,
		CompanyCode: "ACME",
		CompanyID:   "company-1",
		DisplayName: "Ada Lovelace",
	})}, apiOpts...)
	api := mockapi.Start(apiOpts...)
	t.Cleanup(api.Close)

	kv := storage.NewMemoryKV()
	t.Cleanup(func() { _ = kv.Close() })

	logger := zaptest.NewLogger(t)
	bus := event.NewBus(logger)
	f := &fixture{
		api:      api,
		sessions: session.NewManager(session.NewStore(kv), bus, logger),
		kv:       kv,
	}
	bus.Subscribe(func(ctx context.Context, e event.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.expired = append(f.expired, e.(event.AuthExpired))
		return nil
	}, event.TypeAuthExpired)

	opts := append([]client.Option{client.WithSessions(f.sessions), client.WithLogger(logger)}, clientOpts...)
	c, err := client.New(client.Config{BaseURL: api.URL(), Timeout: 5 * time.Second}, opts...)
	require.NoError(t, err)
	f.client = c
	return f
}

func (f *fixture) login(t *testing.T) *session.Session {
	t.Helper()
	sess, err := client.Call[*session.Session](context.Background(), f.client, client.Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   map[string]string{"email": testEmail, "password": testPassword},
	})
	require.NoError(t, err)
	require.NotEmpty(t, sess.AccessToken)
	require.NoError(t, f.sessions.Save(context.Background(), sess))
	return sess
}

func (f *fixture) expiredEvents() []event.AuthExpired {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.AuthExpired(nil), f.expired...)
}

func TestNew_Validation(t *testing.T) {
	_, err := client.New(client.Config{})
	assert.Error(t, err)

	_, err = client.New(client.Config{BaseURL: "ftp://example.com"})
	assert.Error(t, err)

	c, err := client.New(client.Config{BaseURL: "http://localhost:8080/api/v1/"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/v1", c.BaseURL())
}

func TestDo_AttachesCredentialsAfterLogin(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.login(t)

	got, err := client.Call[echo](context.Background(), f.client, client.Request{Path: "/test/echo"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "Bearer "+sess.AccessToken, got.Authorization)
	assert.Equal(t, "company-1", got.CompanyID)
	assert.Equal(t, "ACME", got.CompanyCode)
	assert.Empty(t, got.IdempotencyKey, "GET carries no idempotency key")
	assert.Equal(t, "application/json", got.ContentType)
}

func TestDo_IdempotencyKeyPerMutatingRequest(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for _, method := range []string{http.MethodPost, "put", http.MethodPatch, http.MethodPost} {
		got, err := client.Call[echo](ctx, f.client, client.Request{Method: method, Path: "/test/echo", Body: map[string]int{"n": 1}})
		require.NoError(t, err)

		_, parseErr := uuid.Parse(got.IdempotencyKey)
		require.NoError(t, parseErr, "key must be a UUID")
		assert.False(t, seen[got.IdempotencyKey], "keys must be unique")
		seen[got.IdempotencyKey] = true
	}

	got, err := client.Call[echo](ctx, f.client, client.Request{Method: http.MethodDelete, Path: "/test/echo"})
	require.NoError(t, err)
	assert.Empty(t, got.IdempotencyKey)
}

func TestDo_ExplicitIdempotencyKey(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t)
	f.api.ExpireAccessTokens()

	resp, err := f.client.Do(context.Background(), client.Request{
		Method:         http.MethodPost,
		Path:           "/test/echo",
		Body:           map[string]string{"a": "b"},
		IdempotencyKey: "order-42",
	})
	require.NoError(t, err)
	assert.True(t, resp.Replayed)
	assert.Equal(t, "order-42", resp.IdempotencyKey)

	attempts := f.api.RequestsTo(http.MethodPost, "/test/echo")
	require.Len(t, attempts, 2)
	for _, a := range attempts {
		assert.Equal(t, "order-42", a.Header.Get(client.HeaderIdempotencyKey))
	}
}

func TestDo_TransparentRecoveryFrom401(t *testing.T) {
	f := newFixture(t, nil)
	old := f.login(t)
	f.api.ExpireAccessTokens()

	resp, err := f.client.Do(context.Background(), client.Request{
		Method: http.MethodPost,
		Path:   "/test/echo",
		Body:   map[string]string{"hello": "world"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Replayed)
	assert.Equal(t, 1, f.api.RefreshCount())

	attempts := f.api.RequestsTo(http.MethodPost, "/test/echo")
	require.Len(t, attempts, 2)
	assert.Equal(t, "Bearer "+old.AccessToken, attempts[0].Header.Get("Authorization"))
	assert.NotEqual(t, attempts[0].Header.Get("Authorization"), attempts[1].Header.Get("Authorization"))
	assert.NotEqual(t, attempts[0].Header.Get(client.HeaderIdempotencyKey), attempts[1].Header.Get(client.HeaderIdempotencyKey),
		"a replay is a new attempt with a new key")
	assert.JSONEq(t, `{"hello":"world"}`, string(attempts[1].Body))

	cur := f.sessions.Current()
	require.NotNil(t, cur)
	assert.NotEqual(t, old.AccessToken, cur.AccessToken)
	assert.Equal(t, old.RefreshToken, cur.RefreshToken)
	assert.Empty(t, f.expiredEvents())
}

func TestDo_RotatedRefreshTokenIsStored(t *testing.T) {
	f := newFixture(t, []mockapi.Option{mockapi.WithRotatingRefreshTokens()})
	old := f.login(t)
	f.api.ExpireAccessTokens()

	_, err := f.client.Get(context.Background(), "/auth/me", nil)
	require.NoError(t, err)

	persisted, err := session.NewStore(f.kv).Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.NotEqual(t, old.RefreshToken, persisted.RefreshToken)
	assert.NotEqual(t, old.AccessToken, persisted.AccessToken)
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	f := newFixture(t, []mockapi.Option{mockapi.WithRotatingRefreshTokens()})
	f.login(t)
	f.api.ExpireAccessTokens()
	f.api.SetRefreshDelay(50 * time.Millisecond)

	const callers = 12
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.client.Get(context.Background(), "/auth/me", nil)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.api.RefreshCount())
	assert.Empty(t, f.expiredEvents())
}

func TestDo_RefreshFailureExpiresSession(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t)
	f.api.ExpireAccessTokens()
	f.api.SetRefreshFailure(true)
	f.api.SetRefreshDelay(50 * time.Millisecond)

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.client.Get(context.Background(), "/auth/me", nil)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.ErrorIs(t, err, client.ErrAuthExpired)
		assert.Equal(t, http.StatusUnauthorized, client.StatusOf(err))
		assert.Equal(t, client.SessionExpiredMessage, client.UserMessage(err))
	}

	assert.Equal(t, 1, f.api.RefreshCount())
	assert.Len(t, f.api.RequestsTo(http.MethodGet, "/auth/me"), callers, "no replay after a failed refresh")
	assert.Nil(t, f.sessions.Current())

	events := f.expiredEvents()
	require.NotEmpty(t, events)
	assert.Equal(t, event.ReasonRefreshFailed, events[0].Reason)

	_, err := f.kv.Get(context.Background(), session.SessionKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDo_MissingRefreshTokenFailsWithoutNetwork(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.login(t)
	sess.RefreshToken = ""
	require.NoError(t, f.sessions.Save(context.Background(), sess))
	f.api.ExpireAccessTokens()

	_, err := f.client.Get(context.Background(), "/auth/me", nil)
	assert.ErrorIs(t, err, client.ErrAuthExpired)
	assert.Equal(t, 0, f.api.RefreshCount())
	assert.Len(t, f.expiredEvents(), 1)
}

func TestDo_ReplayFailureSurfacesAsIs(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t)
	f.api.ExpireAccessTokens()

	calls := 0
	var mu sync.Mutex
	f.api.Override(http.MethodGet, "/flaky", func(c *gin.Context) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "expired"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"message": "still no"})
	})

	_, err := f.client.Get(context.Background(), "/flaky", nil)
	require.Error(t, err)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "still no", apiErr.Message)
	assert.NotErrorIs(t, err, client.ErrAuthExpired)
	assert.Equal(t, 2, calls, "at most one replay")
	assert.Equal(t, 1, f.api.RefreshCount())
}

func TestDo_BootstrapPathsNeverRefresh(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t)

	_, err := f.client.Post(context.Background(), "/auth/login", map[string]string{"email": testEmail, "password": "wrong"})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, client.StatusOf(err))
	assert.Equal(t, "Invalid credentials. Please check and try again.", client.UserMessage(err))
	assert.Equal(t, "Invalid email or password", err.(*client.APIError).Message)
	assert.Equal(t, 0, f.api.RefreshCount())
	assert.NotNil(t, f.sessions.Current(), "a failed login leaves the session alone")
}

func TestDo_PublicPathsCarryNoCredentials(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t)

	f.api.Override(http.MethodPost, "/auth/password/reset", func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "bad token"})
	})

	_, err := f.client.Post(context.Background(), "/auth/password/forgot", map[string]string{"email": testEmail})
	require.NoError(t, err)
	_, err = f.client.Post(context.Background(), "/auth/password/reset", map[string]string{"token": "x"})
	require.Error(t, err)
	assert.Equal(t, 0, f.api.RefreshCount())

	for _, path := range []string{"/auth/password/forgot", "/auth/password/reset"} {
		reqs := f.api.RequestsTo(http.MethodPost, path)
		require.Len(t, reqs, 1)
		assert.Empty(t, reqs[0].Header.Get("Authorization"), path)
		assert.Empty(t, reqs[0].Header.Get(client.HeaderCompanyID), path)
		assert.Empty(t, reqs[0].Header.Get(client.HeaderCompanyCode), path)
	}
	assert.True(t, client.IsPublicPath("/auth/password/forgot/superadmin"))
	assert.False(t, client.IsPublicPath("/auth/login"))
}

func TestDo_TrailingSlashStaysPublic(t *testing.T) {
	var (
		mu   sync.Mutex
		auth = make(map[string]string)
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth[r.URL.Path] = r.Header.Get("Authorization")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{}}`))
	}))
	t.Cleanup(srv.Close)

	logger := zaptest.NewLogger(t)
	kv := storage.NewMemoryKV()
	sessions := session.NewManager(session.NewStore(kv), event.NewBus(logger), logger)
	require.NoError(t, sessions.Save(context.Background(), &session.Session{AccessToken: "tok", CompanyCode: "ACME"}))

	c, err := client.New(client.Config{BaseURL: srv.URL + "/api/v1", Timeout: 5 * time.Second},
		client.WithSessions(sessions), client.WithLogger(logger))
	require.NoError(t, err)

	for _, path := range []string{"/auth/password/forgot/", "/auth/password/reset/", "/auth/me/"} {
		_, err := c.Post(context.Background(), path, map[string]string{"email": testEmail})
		require.NoError(t, err, path)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, auth["/api/v1/auth/password/forgot/"])
	assert.Empty(t, auth["/api/v1/auth/password/reset/"])
	assert.Equal(t, "Bearer tok", auth["/api/v1/auth/me/"])
	assert.True(t, client.IsPublicPath("/auth/password/forgot/"))
	assert.True(t, client.IsPublicPath("/auth/password/reset//"))
}

func TestDo_IdempotencyKeyFromHeaders(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t)
	f.api.ExpireAccessTokens()

	resp, err := f.client.Do(context.Background(), client.Request{
		Method:  http.MethodPost,
		Path:    "/test/echo",
		Body:    map[string]string{"a": "b"},
		Headers: map[string]string{"idempotency-key": "hdr-1"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Replayed)
	assert.Equal(t, "hdr-1", resp.IdempotencyKey)

	attempts := f.api.RequestsTo(http.MethodPost, "/test/echo")
	require.Len(t, attempts, 2)
	for _, a := range attempts {
		assert.Equal(t, "hdr-1", a.Header.Get(client.HeaderIdempotencyKey))
	}

	got, err := client.Call[echo](context.Background(), f.client, client.Request{
		Method:         http.MethodPost,
		Path:           "/test/echo",
		Headers:        map[string]string{client.HeaderIdempotencyKey: "hdr-2"},
		IdempotencyKey: "field-wins",
	})
	require.NoError(t, err)
	assert.Equal(t, "field-wins", got.IdempotencyKey)
}

func TestDo_RefreshEnvelopeFailureExpiresSession(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t)
	f.api.ExpireAccessTokens()
	f.api.Override(http.MethodPost, client.RefreshPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": "refresh token revoked",
			"data":    gin.H{"accessToken": "should-not-be-used"},
		})
	})

	_, err := f.client.Get(context.Background(), "/auth/me", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrAuthExpired)
	assert.Len(t, f.api.RequestsTo(http.MethodPost, client.RefreshPath), 1)
	assert.Len(t, f.api.RequestsTo(http.MethodGet, "/auth/me"), 1, "no replay after a rejected refresh")
	assert.Nil(t, f.sessions.Current())

	events := f.expiredEvents()
	require.Len(t, events, 1)
	assert.Equal(t, event.ReasonRefreshFailed, events[0].Reason)
}

func TestDo_SessionOverride(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t)

	override := &session.Session{AccessToken: "other-token", CompanyCode: "GLOBEX"}
	_, err := f.client.Do(context.Background(), client.Request{Path: "/test/echo", Session: override})
	require.Error(t, err, "the fake rejects the unknown token")
	assert.Equal(t, http.StatusUnauthorized, client.StatusOf(err))
	assert.Equal(t, 0, f.api.RefreshCount(), "override sessions are not refreshed")

	reqs := f.api.RequestsTo(http.MethodGet, "/test/echo")
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer other-token", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "GLOBEX", reqs[0].Header.Get(client.HeaderCompanyCode))
}

func TestDo_QueryAndPrefixedPaths(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t)

	got, err := client.Call[echo](context.Background(), f.client, client.Request{
		Path:  "/api/v1/test/echo?page=2",
		Query: url.Values{"search": {"north"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "page=2&search=north", got.Query)
}

func TestDo_RawBodies(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t)
	ctx := context.Background()

	got, err := client.Call[echo](ctx, f.client, client.Request{
		Method: http.MethodPost,
		Path:   "/test/echo",
		Body:   url.Values{"a": {"1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "application/x-www-form-urlencoded", got.ContentType)
	assert.Equal(t, "a=1", got.Body)

	got, err = client.Call[echo](ctx, f.client, client.Request{
		Method:  http.MethodPost,
		Path:    "/test/echo",
		Body:    []byte("plain text"),
		Headers: map[string]string{"Content-Type": "text/plain"},
	})
	require.NoError(t, err)
	assert.Equal(t, "text/plain", got.ContentType)
	assert.Equal(t, "plain text", got.Body)
}

func TestDo_ErrorMessageExtraction(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t)

	f.api.Override(http.MethodGet, "/dealers/missing", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"errors": []gin.H{{"defaultMessage": "Dealer missing"}}})
	})
	f.api.Override(http.MethodGet, "/boom", func(c *gin.Context) {
		c.String(http.StatusBadGateway, "<html>bad gateway</html>")
	})

	_, err := f.client.Get(context.Background(), "/dealers/missing", nil)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Dealer missing", apiErr.Message)
	assert.Equal(t, "Not found.", client.UserMessage(err))

	_, err = f.client.Get(context.Background(), "/boom", nil)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Bad Gateway", apiErr.Message, "falls back to the status text")
	assert.True(t, apiErr.IsServerError())
	assert.Equal(t, "Server error. Please try again later.", client.UserMessage(err))
}

func TestCall_Envelopes(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t)
	ctx := context.Background()

	f.api.Override(http.MethodGet, "/refused", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Period is closed", "code": "PERIOD_CLOSED"})
	})
	f.api.Override(http.MethodGet, "/raw", func(c *gin.Context) {
		c.JSON(http.StatusOK, []string{"a", "b"})
	})
	f.api.Override(http.MethodGet, "/empty", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	_, err := client.Call[map[string]any](ctx, f.client, client.Request{Path: "/refused"})
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusOK, apiErr.Status)
	assert.Equal(t, "Period is closed", apiErr.Message)
	assert.Equal(t, "PERIOD_CLOSED", apiErr.Code)
	assert.Equal(t, "Period is closed", client.UserMessage(err))

	raw, err := client.Call[[]string](ctx, f.client, client.Request{Path: "/raw"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, raw)

	decoded, err := client.Decode[[]string](ctx, f.client, client.Request{Path: "/raw"})
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	empty, err := client.Call[map[string]any](ctx, f.client, client.Request{Path: "/empty"})
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestDo_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL + "/api/v1"
	srv.Close()

	c, err := client.New(client.Config{BaseURL: base, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "/auth/me", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrNetwork)
	var netErr *client.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "/auth/me", netErr.Path)
	assert.Equal(t, "Unable to reach the server. Check your connection.", client.UserMessage(err))
	assert.Equal(t, 0, client.StatusOf(err))
}

func TestDo_CallerCancellationDoesNotAbortSharedRefresh(t *testing.T) {
	f := newFixture(t, nil)
	old := f.login(t)
	f.api.ExpireAccessTokens()
	f.api.SetRefreshDelay(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.client.Get(ctx, "/auth/me", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Eventually(t, func() bool {
		cur := f.sessions.Current()
		return cur != nil && cur.AccessToken != old.AccessToken
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, f.api.RefreshCount())
	assert.Empty(t, f.expiredEvents())
}

type recordingObserver struct {
	mu        sync.Mutex
	attempts  []int
	refreshes []string
	replays   int
}

func (o *recordingObserver) ObserveAttempt(method, path string, status int, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, status)
}

func (o *recordingObserver) ObserveRefresh(outcome string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshes = append(o.refreshes, outcome)
}

func (o *recordingObserver) ObserveReplay(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replays++
}

func TestDo_ObserverAndSpans(t *testing.T) {
	obs := &recordingObserver{}
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture(t, nil, client.WithObserver(obs), client.WithTracerProvider(tp))
	f.login(t)
	f.api.ExpireAccessTokens()

	_, err := f.client.Get(context.Background(), "/auth/me", nil)
	require.NoError(t, err)

	obs.mu.Lock()
	// login, 401, refresh, replay
	assert.Equal(t, []int{200, 401, 200, 200}, obs.attempts)
	assert.Equal(t, []string{client.RefreshSucceeded}, obs.refreshes)
	assert.Equal(t, 1, obs.replays)
	obs.mu.Unlock()

	spans := recorder.Ended()
	require.Len(t, spans, 4)
	assert.Equal(t, "ERP GET /auth/me", spans[1].Name())
	assert.Equal(t, "ERP POST /auth/refresh-token", spans[2].Name())
}

func TestDo_RateLimiterHonoursContext(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	f := newFixture(t, nil, client.WithLimiter(limiter))

	_, err := f.client.Post(context.Background(), "/auth/password/forgot", map[string]string{"email": testEmail})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.client.Post(ctx, "/auth/password/forgot", map[string]string{"email": testEmail})
	require.Error(t, err)
	assert.False(t, errors.Is(err, client.ErrNetwork))
}
