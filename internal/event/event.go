// Package event is the in-process signal bus between the API layer and
// whatever plays the top-level router (the CLI, or an embedding service).
package event

import "time"

// Event types
const (
	TypeAuthExpired     = "auth.expired"
	TypeLoggedIn        = "auth.logged_in"
	TypeTokensRefreshed = "auth.tokens_refreshed"
)

// Reasons carried by AuthExpired
const (
	ReasonRefreshFailed = "refresh_failed"
	ReasonLogout        = "logout"
)

// Event is anything published on the bus
type Event interface {
	EventType() string
	OccurredAt() time.Time
}

// AuthExpired is published whenever the session is cleared. Subscribers
// are expected to send the user back to the sign-in step.
type AuthExpired struct {
	Reason string
	At     time.Time
}

func (e AuthExpired) EventType() string     { return TypeAuthExpired }
func (e AuthExpired) OccurredAt() time.Time { return e.At }

// LoggedIn is published after a session was created and persisted
type LoggedIn struct {
	CompanyCode string
	DisplayName string
	At          time.Time
}

func (e LoggedIn) EventType() string     { return TypeLoggedIn }
func (e LoggedIn) OccurredAt() time.Time { return e.At }

// TokensRefreshed is published after a successful silent refresh
type TokensRefreshed struct {
	RefreshRotated bool
	At             time.Time
}

func (e TokensRefreshed) EventType() string     { return TypeTokensRefreshed }
func (e TokensRefreshed) OccurredAt() time.Time { return e.At }
