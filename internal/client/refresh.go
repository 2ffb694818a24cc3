package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/erp/portal/internal/event"
	"github.com/erp/portal/internal/session"
	"go.uber.org/zap"
)

// RefreshPath is the endpoint exchanging a refresh token for a new access token
const RefreshPath = "/auth/refresh-token"

const refreshFlightKey = "refresh"

var (
	errNoRefreshToken = errors.New("no refresh token in session")
	errNoAccessToken  = errors.New("refresh response carried no access token")
	errAlreadyRotated = errors.New("access token already rotated")
)

// canRecover reports whether err is a 401 that a refresh may fix
func (c *Client) canRecover(p *prepared, err error) bool {
	if c.sessions == nil || p.public || p.bootstrap || p.session != nil {
		return false
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// recoverSession makes sure the session holds an access token newer than
// usedToken. Concurrent callers share one refresh; a caller whose 401
// arrives after the refresh completed replays without refreshing again.
// On failure the session is cleared and an auth-expired error returned.
func (c *Client) recoverSession(ctx context.Context, usedToken string) error {
	current, err := c.sessions.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if current == nil && usedToken != "" {
		// cleared by a refresh that already failed
		return newAuthExpiredError()
	}
	if rotated(current, usedToken) {
		c.observeRefresh(RefreshShared, 0)
		return nil
	}

	// The flight is detached so the first caller's cancellation does not
	// fail everyone waiting on it.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(refreshFlightKey, func() (any, error) {
		return nil, c.refresh(flightCtx, usedToken)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refresh runs inside the single flight
func (c *Client) refresh(ctx context.Context, usedToken string) error {
	start := time.Now()
	err := c.exchangeRefreshToken(ctx, usedToken)
	duration := time.Since(start)

	switch {
	case errors.Is(err, errAlreadyRotated):
		c.observeRefresh(RefreshShared, duration)
		return nil
	case err != nil:
		c.observeRefresh(RefreshFailed, duration)
		c.logger.Warn("token refresh failed", zap.Duration("duration", duration), zap.Error(err))
		if clearErr := c.sessions.Clear(ctx, event.ReasonRefreshFailed); clearErr != nil {
			c.logger.Warn("failed to clear session after refresh failure", zap.Error(clearErr))
		}
		return newAuthExpiredError()
	default:
		c.observeRefresh(RefreshSucceeded, duration)
		c.logger.Debug("token refreshed", zap.Duration("duration", duration))
		return nil
	}
}

func (c *Client) exchangeRefreshToken(ctx context.Context, usedToken string) error {
	sess, err := c.sessions.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if rotated(sess, usedToken) {
		return errAlreadyRotated
	}
	if sess == nil || sess.RefreshToken == "" {
		return errNoRefreshToken
	}

	p, err := c.prepare(Request{
		Method: http.MethodPost,
		Path:   RefreshPath,
		Body:   map[string]string{"refreshToken": sess.RefreshToken},
	})
	if err != nil {
		return err
	}
	resp, _, err := c.attempt(ctx, p, false)
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	if _, err := Unwrap(resp.Body); err != nil {
		return fmt.Errorf("refresh rejected: %w", err)
	}

	access := FirstString(resp.Body, AccessTokenPaths...)
	if access == "" {
		return errNoAccessToken
	}
	refresh := FirstString(resp.Body, RefreshTokenPaths...)
	if err := c.sessions.UpdateTokens(ctx, access, refresh); err != nil {
		return fmt.Errorf("storing refreshed tokens: %w", err)
	}
	return nil
}

// rotated reports whether sess carries an access token other than usedToken
func rotated(sess *session.Session, usedToken string) bool {
	return sess != nil && sess.AccessToken != "" && sess.AccessToken != usedToken
}

func (c *Client) observeRefresh(outcome string, duration time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRefresh(outcome, duration)
	}
}
