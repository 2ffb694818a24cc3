package mockapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, s *Server, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, Prefix+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func login(t *testing.T, s *Server, email, password string) (string, string) {
	t.Helper()
	rec, out := do(t, s, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]any)
	return data["accessToken"].(string), data["refreshToken"].(string)
}

func TestServer_LoginAndMe(t *testing.T) {
	s := New(WithUsers(User{Email: "ada@acme.test", Password: "s3cret-pass", CompanyCode: "ACME", DisplayName: "Ada"}))

	access, refresh := login(t, s, "ada@acme.test", "s3cret-pass")
	assert.NotEmpty(t, refresh)

	rec, out := do(t, s, http.MethodGet, "/auth/me", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ada", out["data"].(map[string]any)["displayName"])
	assert.Equal(t, 1, s.LoginCount())
}

func TestServer_InvalidCredentials(t *testing.T) {
	s := New(WithUsers(User{Email: "ada@acme.test", Password: "s3cret-pass"}))

	rec, out := do(t, s, http.MethodPost, "/auth/login", "", map[string]string{"email": "ada@acme.test", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, CodeInvalidCredentials, out["error"].(map[string]any)["code"])
}

func TestServer_ExpireAndRefresh(t *testing.T) {
	s := New(WithUsers(User{Email: "ada@acme.test", Password: "s3cret-pass"}), WithRotatingRefreshTokens())
	access, refresh := login(t, s, "ada@acme.test", "s3cret-pass")

	s.ExpireAccessTokens()
	rec, _ := do(t, s, http.MethodGet, "/auth/me", access, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, out := do(t, s, http.MethodPost, "/auth/refresh-token", "", map[string]string{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]any)
	assert.NotEqual(t, refresh, data["refreshToken"])
	assert.Equal(t, 1, s.RefreshCount())

	// the rotated-out token is dead
	rec, _ = do(t, s, http.MethodPost, "/auth/refresh-token", "", map[string]string{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_MFAChallenge(t *testing.T) {
	s := New(WithUsers(User{Email: "ada@acme.test", Password: "s3cret-pass", MFAEnabled: true}))

	rec, out := do(t, s, http.MethodPost, "/auth/login", "", map[string]string{"email": "ada@acme.test", "password": "s3cret-pass"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, CodeMFARequired, out["code"])

	rec, _ = do(t, s, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ada@acme.test", "password": "s3cret-pass", "mfaCode": ValidMFACode,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_IdempotentCreate(t *testing.T) {
	s := New(WithUsers(User{Email: "ada@acme.test", Password: "s3cret-pass"}))
	access, _ := login(t, s, "ada@acme.test", "s3cret-pass")

	send := func(key string) map[string]any {
		req := httptest.NewRequest(http.MethodPost, Prefix+"/dealers", bytes.NewBufferString(`{"code":"D1","name":"North"}`))
		req.Header.Set("Authorization", "Bearer "+access)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
		var out map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out["data"].(map[string]any)
	}

	first := send("key-1")
	second := send("key-1")
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, 1, s.Count(Dealers))
}

func TestServer_UnbalancedJournalEntry(t *testing.T) {
	s := New(WithUsers(User{Email: "ada@acme.test", Password: "s3cret-pass"}))
	access, _ := login(t, s, "ada@acme.test", "s3cret-pass")

	rec, out := do(t, s, http.MethodPost, "/accounting/journal-entries", access, map[string]any{
		"date": "2026-03-01",
		"lines": []map[string]any{
			{"accountId": "a", "debit": "100.00", "credit": "0"},
			{"accountId": "b", "debit": "0", "credit": "99.99"},
		},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, CodeUnbalanced, out["error"].(map[string]any)["code"])
}

func TestServer_SeedIsDeterministic(t *testing.T) {
	a := New(WithSeed(42, 5))
	b := New(WithSeed(42, 5))

	assert.Equal(t, 5, a.Count(Dealers))
	assert.Equal(t, len(chartOfAccounts), a.Count(Accounts))
	assert.Equal(t, a.collections[Dealers][0]["name"], b.collections[Dealers][0]["name"])
}

func TestServer_OverrideAndRecord(t *testing.T) {
	s := New()
	s.Override(http.MethodPost, "/auth/password/forgot", func(c *gin.Context) {
		c.JSON(http.StatusTooManyRequests, gin.H{"message": "slow down"})
	})

	rec, out := do(t, s, http.MethodPost, "/auth/password/forgot", "", map[string]string{"email": "x@y.z"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "slow down", out["message"])

	recorded := s.RequestsTo(http.MethodPost, "/auth/password/forgot")
	require.Len(t, recorded, 1)
	assert.JSONEq(t, `{"email":"x@y.z"}`, string(recorded[0].Body))

	s.Override(http.MethodPost, "/auth/password/forgot", nil)
	rec, _ = do(t, s, http.MethodPost, "/auth/password/forgot", "", map[string]string{"email": "x@y.z"})
	assert.Equal(t, http.StatusOK, rec.Code)
}
