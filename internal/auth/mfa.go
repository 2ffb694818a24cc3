package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/erp/portal/internal/client"
	"github.com/erp/portal/internal/session"
	"go.uber.org/zap"
)

// ErrNoEnrollment means ActivateMFA was called without a pending setup
var ErrNoEnrollment = errors.New("no MFA enrollment in progress")

type codeRequest struct {
	Code string `json:"code" validate:"required,numeric,len=6"`
}

// SetupMFA starts an enrollment and keeps the secret locally until it is
// activated or expires
func (s *Service) SetupMFA(ctx context.Context) (*session.Enrollment, error) {
	enrollment, err := client.Call[session.Enrollment](ctx, s.client, client.Request{Method: http.MethodPost, Path: PathMFASetup})
	if err != nil {
		return nil, err
	}
	if enrollment.Secret == "" {
		return nil, errors.New("mfa setup response is missing the secret")
	}
	if s.enrollments != nil {
		if err := s.enrollments.Save(ctx, enrollment); err != nil {
			return nil, fmt.Errorf("storing pending enrollment: %w", err)
		}
	}
	s.logger.Info("mfa enrollment started", zap.Int("recovery_codes", len(enrollment.RecoveryCodes)))
	return &enrollment, nil
}

// PendingEnrollment returns the enrollment awaiting activation, or nil
func (s *Service) PendingEnrollment(ctx context.Context) (*session.Enrollment, error) {
	if s.enrollments == nil {
		return nil, nil
	}
	return s.enrollments.Load(ctx)
}

// ActivateMFA confirms the pending enrollment with a one-time code
func (s *Service) ActivateMFA(ctx context.Context, code string) error {
	req := codeRequest{Code: strings.TrimSpace(code)}
	if err := s.validate(req); err != nil {
		return err
	}
	if s.enrollments != nil {
		pending, err := s.enrollments.Load(ctx)
		if err != nil {
			return err
		}
		if pending == nil {
			return ErrNoEnrollment
		}
	}

	if _, err := client.Call[struct{}](ctx, s.client, client.Request{Method: http.MethodPost, Path: PathMFAActivate, Body: req}); err != nil {
		return err
	}
	if s.enrollments != nil {
		if err := s.enrollments.Clear(ctx); err != nil {
			s.logger.Warn("failed to clear pending enrollment", zap.Error(err))
		}
	}
	s.logger.Info("mfa activated")
	return nil
}

// DisableMFA turns the second factor off
func (s *Service) DisableMFA(ctx context.Context, code string) error {
	req := codeRequest{Code: strings.TrimSpace(code)}
	if err := s.validate(req); err != nil {
		return err
	}
	if _, err := client.Call[struct{}](ctx, s.client, client.Request{Method: http.MethodPost, Path: PathMFADisable, Body: req}); err != nil {
		return err
	}
	s.logger.Info("mfa disabled")
	return nil
}
