package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is what an access token says about its holder.
// It is decoded without verification and is for display only.
type TokenClaims struct {
	Subject     string    `json:"sub"`
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	CompanyCode string    `json:"company_code"`
	Name        string    `json:"name"`
	Roles       []string  `json:"roles"`
	IssuedAt    time.Time `json:"iat"`
	ExpiresAt   time.Time `json:"exp"`
}

type displayClaims struct {
	jwt.RegisteredClaims
	TenantID    string   `json:"tenant_id"`
	UserID      string   `json:"user_id"`
	Email       string   `json:"email"`
	CompanyCode string   `json:"company_code"`
	Name        string   `json:"name"`
	Roles       []string `json:"roles"`
}

// InspectToken decodes the claims of an access token without checking
// its signature. Expiry is never decided from these claims.
func InspectToken(accessToken string) (TokenClaims, error) {
	var claims displayClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return TokenClaims{}, fmt.Errorf("decoding access token: %w", err)
	}

	out := TokenClaims{
		Subject:     claims.Subject,
		TenantID:    claims.TenantID,
		UserID:      claims.UserID,
		Email:       claims.Email,
		CompanyCode: claims.CompanyCode,
		Name:        claims.Name,
		Roles:       claims.Roles,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
