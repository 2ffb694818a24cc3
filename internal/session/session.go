// Package session holds the client-side credential and tenant bundle and
// keeps it persisted between runs.
package session

import "errors"

// ErrNoSession is returned by operations that need an existing session
var ErrNoSession = errors.New("session: no active session")

// Session is the credential/tenant bundle created by a successful login.
// Expiry is never checked locally; the server reports it with a 401.
type Session struct {
	TokenType          string `json:"tokenType"`
	AccessToken        string `json:"accessToken"`
	RefreshToken       string `json:"refreshToken"`
	ExpiresInSeconds   int64  `json:"expiresIn"`
	CompanyCode        string `json:"companyCode"`
	CompanyID          string `json:"companyId,omitempty"`
	DisplayName        string `json:"displayName"`
	MustChangePassword bool   `json:"mustChangePassword,omitempty"`
}

// Clone returns a copy that can be handed out without sharing state
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Bearer returns the Authorization header value, or "" without a token
func (s *Session) Bearer() string {
	if s == nil || s.AccessToken == "" {
		return ""
	}
	return "Bearer " + s.AccessToken
}
