// Package auth implements the sign-in, sign-out, password and MFA flows on
// top of the API client and the session manager.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/erp/portal/internal/client"
	"github.com/erp/portal/internal/event"
	"github.com/erp/portal/internal/session"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// API paths used by this package
const (
	PathLogin          = "/auth/login"
	PathLogout         = "/auth/logout"
	PathMe             = "/auth/me"
	PathForgot         = "/auth/password/forgot"
	PathForgotAdmin    = "/auth/password/forgot/superadmin"
	PathReset          = "/auth/password/reset"
	PathChangePassword = "/auth/password/change"
	PathMFASetup       = "/auth/mfa/setup"
	PathMFAActivate    = "/auth/mfa/activate"
	PathMFADisable     = "/auth/mfa/disable"
)

// Codes the server uses to ask for a second factor
const (
	CodeMFARequired  = "MFA_REQUIRED"
	CodeMFAChallenge = "MFA_CHALLENGE"
)

// ForgotGenericMessage is shown for every forgot-password outcome that is
// not a server or network failure, so account existence is never revealed.
const ForgotGenericMessage = "If an account exists, check your email for a reset link."

var (
	// ErrMFARequired means the credentials were accepted but a one-time
	// code or recovery code must be supplied
	ErrMFARequired = errors.New("multi-factor authentication required")
	// ErrMissingTokens means a login response lacked an access or refresh token
	ErrMissingTokens = errors.New("login response is missing tokens")
)

// Credentials is the sign-in form
type Credentials struct {
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required"`
	CompanyCode  string `json:"companyCode,omitempty"`
	MFACode      string `json:"mfaCode,omitempty" validate:"omitempty,numeric,len=6"`
	RecoveryCode string `json:"recoveryCode,omitempty"`
}

// Profile is the signed-in user as reported by the server
type Profile struct {
	ID                 string   `json:"id"`
	Email              string   `json:"email"`
	DisplayName        string   `json:"displayName"`
	CompanyCode        string   `json:"companyCode"`
	CompanyID          string   `json:"companyId"`
	Roles              []string `json:"roles"`
	MFAEnabled         bool     `json:"mfaEnabled"`
	MustChangePassword bool     `json:"mustChangePassword"`
}

// ForgotResult is the outcome of a forgot-password request
type ForgotResult struct {
	Generic bool
	Message string
}

type loginData struct {
	TokenType          string `json:"tokenType"`
	AccessToken        string `json:"accessToken"`
	RefreshToken       string `json:"refreshToken"`
	ExpiresIn          int64  `json:"expiresIn"`
	CompanyCode        string `json:"companyCode"`
	CompanyID          string `json:"companyId"`
	DisplayName        string `json:"displayName"`
	MustChangePassword bool   `json:"mustChangePassword"`
}

type resetRequest struct {
	Token           string `json:"token" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=NewPassword"`
}

type changeRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=NewPassword"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Service runs the authentication flows
type Service struct {
	client      *client.Client
	sessions    *session.Manager
	enrollments *session.Enrollments
	bus         *event.Bus
	logger      *zap.Logger
	validator   *validator.Validate
}

// NewService creates an auth service. The session manager is taken from
// the client; enrollments and bus may be nil.
func NewService(c *client.Client, enrollments *session.Enrollments, bus *event.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client:      c,
		sessions:    c.Sessions(),
		enrollments: enrollments,
		bus:         bus,
		logger:      logger.Named("auth"),
		validator:   newValidator(),
	}
}

// Login signs in, persists the resulting session with the remember-me
// choice and publishes event.LoggedIn.
func (s *Service) Login(ctx context.Context, creds Credentials, remember bool) (*session.Session, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	creds.CompanyCode = strings.TrimSpace(creds.CompanyCode)
	if err := s.validate(creds); err != nil {
		return nil, err
	}
	if s.sessions == nil {
		return nil, errors.New("auth: client has no session manager")
	}

	resp, err := s.client.Post(ctx, PathLogin, creds)
	if err != nil {
		return nil, mfaOr(err)
	}
	data, err := client.UnwrapInto[loginData](resp.Body)
	if err != nil {
		return nil, mfaOr(err)
	}

	if data.AccessToken == "" {
		data.AccessToken = client.FirstString(resp.Body, client.AccessTokenPaths...)
	}
	if data.RefreshToken == "" {
		data.RefreshToken = client.FirstString(resp.Body, client.RefreshTokenPaths...)
	}
	if data.AccessToken == "" || data.RefreshToken == "" {
		return nil, ErrMissingTokens
	}

	sess := &session.Session{
		TokenType:          data.TokenType,
		AccessToken:        data.AccessToken,
		RefreshToken:       data.RefreshToken,
		ExpiresInSeconds:   data.ExpiresIn,
		CompanyCode:        data.CompanyCode,
		CompanyID:          data.CompanyID,
		DisplayName:        data.DisplayName,
		MustChangePassword: data.MustChangePassword,
	}
	if sess.TokenType == "" {
		sess.TokenType = "Bearer"
	}
	if sess.CompanyCode == "" {
		sess.CompanyCode = creds.CompanyCode
	}

	// The remember flag decides whether Save keeps the refresh token.
	if err := s.sessions.SetRemember(ctx, remember); err != nil {
		return nil, fmt.Errorf("storing remember-me choice: %w", err)
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	s.logger.Info("signed in",
		zap.String("company_code", sess.CompanyCode),
		zap.Bool("remember", remember),
		zap.Bool("must_change_password", sess.MustChangePassword),
	)
	s.bus.Publish(ctx, event.LoggedIn{
		CompanyCode: sess.CompanyCode,
		DisplayName: sess.DisplayName,
		At:          time.Now(),
	})
	return sess.Clone(), nil
}

// mfaOr maps a second-factor challenge to ErrMFARequired and returns every
// other error unchanged
func mfaOr(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && (apiErr.Code == CodeMFARequired || apiErr.Code == CodeMFAChallenge) {
		return fmt.Errorf("%w: %s", ErrMFARequired, apiErr.Message)
	}
	return err
}

// Logout revokes the refresh token on the server and always clears the
// local session. A server failure is reported in the outcome only.
func (s *Service) Logout(ctx context.Context) client.BestEffort {
	outcome := client.BestEffort{Op: "logout"}

	sess, err := s.sessions.Load(ctx)
	if err != nil {
		outcome.Err = err
	} else if sess != nil {
		_, outcome.Err = s.client.Do(ctx, client.Request{
			Method:  http.MethodPost,
			Path:    PathLogout,
			Body:    map[string]string{"refreshToken": sess.RefreshToken},
			Session: sess,
		})
	}

	if err := s.sessions.Clear(ctx, event.ReasonLogout); err != nil && outcome.Err == nil {
		outcome.Err = err
	}
	if s.enrollments != nil {
		if err := s.enrollments.Clear(ctx); err != nil {
			s.logger.Debug("failed to clear pending enrollment", zap.Error(err))
		}
	}
	outcome.Log(s.logger)
	return outcome
}

// Me returns the signed-in user's profile
func (s *Service) Me(ctx context.Context) (*Profile, error) {
	p, err := client.Call[Profile](ctx, s.client, client.Request{Method: http.MethodGet, Path: PathMe})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ForgotPassword requests a reset link. Any client-side rejection by the
// server yields the same generic result as success; only 5xx and network
// failures are returned as errors.
func (s *Service) ForgotPassword(ctx context.Context, email string, superAdmin bool) (ForgotResult, error) {
	req := emailRequest{Email: strings.TrimSpace(email)}
	if err := s.validate(req); err != nil {
		return ForgotResult{}, err
	}

	path := PathForgot
	if superAdmin {
		path = PathForgotAdmin
	}
	generic := ForgotResult{Generic: true, Message: ForgotGenericMessage}

	_, err := client.Call[struct{}](ctx, s.client, client.Request{Method: http.MethodPost, Path: path, Body: req})
	if err == nil {
		return generic, nil
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && !apiErr.IsServerError() {
		s.logger.Debug("forgot-password rejected, answering generically", zap.Int("status", apiErr.Status))
		return generic, nil
	}
	return ForgotResult{}, err
}

// ResetPassword sets a new password using the token from the reset link
func (s *Service) ResetPassword(ctx context.Context, token, newPassword, confirm string) error {
	req := resetRequest{Token: strings.TrimSpace(token), NewPassword: newPassword, ConfirmPassword: confirm}
	if err := s.validate(req); err != nil {
		return err
	}
	_, err := client.Call[struct{}](ctx, s.client, client.Request{Method: http.MethodPost, Path: PathReset, Body: req})
	return err
}

// ChangePassword changes the signed-in user's password and clears the
// must-change flag on the session
func (s *Service) ChangePassword(ctx context.Context, current, newPassword, confirm string) error {
	req := changeRequest{CurrentPassword: current, NewPassword: newPassword, ConfirmPassword: confirm}
	if err := s.validate(req); err != nil {
		return err
	}
	if _, err := client.Call[struct{}](ctx, s.client, client.Request{Method: http.MethodPost, Path: PathChangePassword, Body: req}); err != nil {
		return err
	}
	return s.sessions.MarkPasswordChanged(ctx)
}
