package mockapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const ctxUserKey = "mockapi.user"

// accessClaims mirrors the claims the real backend signs into access tokens
type accessClaims struct {
	jwt.RegisteredClaims
	TenantID    string   `json:"tenant_id"`
	UserID      string   `json:"user_id"`
	Email       string   `json:"email"`
	CompanyCode string   `json:"company_code"`
	DisplayName string   `json:"name"`
	Roles       []string `json:"roles"`
	TokenType   string   `json:"token_type"`
}

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	CompanyCode  string `json:"companyCode"`
	MFACode      string `json:"mfaCode"`
	RecoveryCode string `json:"recoveryCode"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token           string `json:"token"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type changeRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type codeRequest struct {
	Code string `json:"code"`
}

func (s *Server) routes() {
	api := s.engine.Group(Prefix)

	api.POST("/auth/login", s.login)
	api.POST("/auth/refresh-token", s.refresh)
	api.POST("/auth/logout", s.logout)
	api.POST("/auth/password/forgot", s.forgot(false))
	api.POST("/auth/password/forgot/superadmin", s.forgot(true))
	api.POST("/auth/password/reset", s.reset)

	authed := api.Group("", s.requireAuth)
	authed.GET("/auth/me", s.me)
	authed.POST("/auth/password/change", s.changePassword)
	authed.POST("/auth/mfa/setup", s.setupMFA)
	authed.POST("/auth/mfa/activate", s.activateMFA)
	authed.POST("/auth/mfa/disable", s.disableMFA)
	authed.Any("/test/echo", s.echo)

	s.resourceRoutes(authed)
}

func (s *Server) issueAccessToken(u *User) (string, error) {
	now := time.Now()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        newID(),
			Subject:   u.ID,
			Issuer:    "erp-mockapi",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessLifetime)),
		},
		TenantID:    u.CompanyID,
		UserID:      u.ID,
		Email:       u.Email,
		CompanyCode: u.CompanyCode,
		DisplayName: u.DisplayName,
		Roles:       u.Roles,
		TokenType:   "access",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", err
	}
	s.accessTokens[token] = strings.ToLower(u.Email)
	return token, nil
}

func (s *Server) issueRefreshToken(u *User) string {
	token := newID()
	s.refreshTokens[token] = strings.ToLower(u.Email)
	return token
}

func (s *Server) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		fail(c, http.StatusUnauthorized, CodeTokenExpired, "Authentication required")
		return
	}

	s.mu.Lock()
	email, ok := s.accessTokens[token]
	var user *User
	if ok {
		user = s.users[email]
	}
	s.mu.Unlock()

	if user == nil {
		fail(c, http.StatusUnauthorized, CodeTokenExpired, "Access token expired")
		return
	}
	c.Set(ctxUserKey, user)
	c.Next()
}

func currentUser(c *gin.Context) *User {
	u, _ := c.MustGet(ctxUserKey).(*User)
	return u
}

func (s *Server) login(c *gin.Context) {
	s.loginCount.Add(1)

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		fail(c, http.StatusBadRequest, CodeValidation, "Email and password are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.ToLower(req.Email)]
	if !ok || u.Password != req.Password {
		fail(c, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password")
		return
	}
	if req.CompanyCode != "" && !strings.EqualFold(req.CompanyCode, u.CompanyCode) {
		fail(c, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid company code")
		return
	}
	if u.MFAEnabled {
		switch {
		case req.MFACode == "" && req.RecoveryCode == "":
			refuse(c, CodeMFARequired, "Multi-factor authentication code required")
			return
		case req.MFACode != "" && req.MFACode != ValidMFACode:
			fail(c, http.StatusUnauthorized, CodeInvalidMFA, "Invalid authentication code")
			return
		}
	}

	access, err := s.issueAccessToken(u)
	if err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	success(c, http.StatusOK, gin.H{
		"tokenType":          "Bearer",
		"accessToken":        access,
		"refreshToken":       s.issueRefreshToken(u),
		"expiresIn":          int(s.accessLifetime.Seconds()),
		"companyCode":        u.CompanyCode,
		"companyId":          u.CompanyID,
		"displayName":        u.DisplayName,
		"mustChangePassword": u.MustChangePassword,
	})
}

func (s *Server) refresh(c *gin.Context) {
	s.refreshCount.Add(1)

	s.mu.Lock()
	delay := s.refreshDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		fail(c, http.StatusBadRequest, CodeValidation, "refreshToken is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.refreshTokens[req.RefreshToken]
	u := s.users[email]
	if s.refreshFails || !ok || u == nil {
		fail(c, http.StatusUnauthorized, CodeInvalidRefresh, "Refresh token is invalid or expired")
		return
	}

	access, err := s.issueAccessToken(u)
	if err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	data := gin.H{
		"tokenType":   "Bearer",
		"accessToken": access,
		"expiresIn":   int(s.accessLifetime.Seconds()),
	}
	if s.rotateRefresh {
		delete(s.refreshTokens, req.RefreshToken)
		data["refreshToken"] = s.issueRefreshToken(u)
	}
	success(c, http.StatusOK, data)
}

func (s *Server) logout(c *gin.Context) {
	var req refreshRequest
	_ = c.ShouldBindJSON(&req)

	s.mu.Lock()
	delete(s.refreshTokens, req.RefreshToken)
	if token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); found {
		delete(s.accessTokens, token)
	}
	s.mu.Unlock()

	successMessage(c, "Logged out")
}

func (s *Server) me(c *gin.Context) {
	u := currentUser(c)
	success(c, http.StatusOK, gin.H{
		"id":                 u.ID,
		"email":              u.Email,
		"displayName":        u.DisplayName,
		"companyCode":        u.CompanyCode,
		"companyId":          u.CompanyID,
		"roles":              u.Roles,
		"mfaEnabled":         u.MFAEnabled,
		"mustChangePassword": u.MustChangePassword,
	})
}

// forgot never reveals whether the account exists
func (s *Server) forgot(superAdmin bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req emailRequest
		if err := c.ShouldBindJSON(&req); err != nil || !strings.Contains(req.Email, "@") {
			fail(c, http.StatusBadRequest, CodeValidation, "A valid email is required")
			return
		}

		s.mu.Lock()
		email := strings.ToLower(req.Email)
		if u, ok := s.users[email]; ok && (!superAdmin || u.SuperAdmin) {
			s.resetTokens[newID()] = email
		}
		s.mu.Unlock()

		successMessage(c, "If the account exists, a reset link has been sent")
	}
}

func (s *Server) reset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		fail(c, http.StatusBadRequest, CodeValidation, "Reset token is required")
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		fail(c, http.StatusBadRequest, CodeValidation, "Passwords do not match")
		return
	}
	if len(req.NewPassword) < 8 {
		fail(c, http.StatusBadRequest, CodeValidation, "Password must be at least 8 characters")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.resetTokens[req.Token]
	u := s.users[email]
	if !ok || u == nil {
		fail(c, http.StatusBadRequest, CodeInvalidToken, "Reset link is invalid or has expired")
		return
	}
	delete(s.resetTokens, req.Token)
	u.Password = req.NewPassword
	u.MustChangePassword = false
	successMessage(c, "Password updated")
}

func (s *Server) changePassword(c *gin.Context) {
	var req changeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, CodeValidation, "Invalid request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u := currentUser(c)
	if u.Password != req.CurrentPassword {
		fail(c, http.StatusBadRequest, CodeValidation, "Current password is incorrect")
		return
	}
	if req.NewPassword != req.ConfirmPassword || len(req.NewPassword) < 8 {
		fail(c, http.StatusBadRequest, CodeValidation, "New password is invalid")
		return
	}
	u.Password = req.NewPassword
	u.MustChangePassword = false
	successMessage(c, "Password changed")
}

func (s *Server) setupMFA(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := currentUser(c)
	if u.MFAEnabled {
		fail(c, http.StatusConflict, CodeConflict, "MFA is already enabled")
		return
	}
	secret := newSecret()
	s.pendingMFA[strings.ToLower(u.Email)] = secret
	success(c, http.StatusOK, gin.H{
		"secret":        secret,
		"otpauthUri":    fmt.Sprintf("otpauth://totp/ERP:%s?secret=%s&issuer=ERP", url.PathEscape(u.Email), secret),
		"recoveryCodes": newRecoveryCodes(8),
	})
}

func (s *Server) activateMFA(c *gin.Context) {
	var req codeRequest
	_ = c.ShouldBindJSON(&req)

	s.mu.Lock()
	defer s.mu.Unlock()

	u := currentUser(c)
	email := strings.ToLower(u.Email)
	if _, ok := s.pendingMFA[email]; !ok {
		fail(c, http.StatusBadRequest, CodeValidation, "No MFA setup in progress")
		return
	}
	if req.Code != ValidMFACode {
		fail(c, http.StatusBadRequest, CodeInvalidMFA, "Invalid authentication code")
		return
	}
	delete(s.pendingMFA, email)
	u.MFAEnabled = true
	successMessage(c, "MFA enabled")
}

func (s *Server) disableMFA(c *gin.Context) {
	var req codeRequest
	_ = c.ShouldBindJSON(&req)

	s.mu.Lock()
	defer s.mu.Unlock()

	u := currentUser(c)
	if !u.MFAEnabled {
		fail(c, http.StatusBadRequest, CodeValidation, "MFA is not enabled")
		return
	}
	if req.Code != ValidMFACode {
		fail(c, http.StatusBadRequest, CodeInvalidMFA, "Invalid authentication code")
		return
	}
	u.MFAEnabled = false
	successMessage(c, "MFA disabled")
}

// echo reflects what the client sent, for dispatcher tests
func (s *Server) echo(c *gin.Context) {
	body, _ := c.GetRawData()
	success(c, http.StatusOK, gin.H{
		"method":         c.Request.Method,
		"query":          c.Request.URL.RawQuery,
		"authorization":  c.GetHeader("Authorization"),
		"companyId":      c.GetHeader("X-Company-Id"),
		"companyCode":    c.GetHeader("X-Company-Code"),
		"idempotencyKey": c.GetHeader("Idempotency-Key"),
		"contentType":    c.GetHeader("Content-Type"),
		"body":           string(body),
	})
}
