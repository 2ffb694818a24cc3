package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/portal/internal/storage"
)

// EnrollmentKey is where a pending MFA enrollment is kept
const EnrollmentKey = "erp.mfa.pending"

// DefaultEnrollmentTTL bounds how long an unactivated secret is kept
const DefaultEnrollmentTTL = 15 * time.Minute

// Enrollment is an MFA setup that has not been activated yet
type Enrollment struct {
	Secret        string    `json:"secret"`
	OTPAuthURI    string    `json:"otpauthUri"`
	RecoveryCodes []string  `json:"recoveryCodes"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Enrollments stores the pending MFA enrollment between setup and activation
type Enrollments struct {
	kv  storage.KV
	ttl time.Duration
}

// NewEnrollments creates an enrollment store; ttl <= 0 uses DefaultEnrollmentTTL
func NewEnrollments(kv storage.KV, ttl time.Duration) *Enrollments {
	if ttl <= 0 {
		ttl = DefaultEnrollmentTTL
	}
	return &Enrollments{kv: kv, ttl: ttl}
}

// Save replaces any pending enrollment
func (e *Enrollments) Save(ctx context.Context, enrollment Enrollment) error {
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(enrollment)
	if err != nil {
		return fmt.Errorf("encoding enrollment: %w", err)
	}
	if err := e.kv.Set(ctx, EnrollmentKey, data, e.ttl); err != nil {
		return fmt.Errorf("saving enrollment: %w", err)
	}
	return nil
}

// Load returns the pending enrollment, or nil when there is none.
// An unreadable record is dropped.
func (e *Enrollments) Load(ctx context.Context) (*Enrollment, error) {
	data, err := e.kv.Get(ctx, EnrollmentKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil
	case errors.Is(err, storage.ErrCorrupt):
		return nil, e.Clear(ctx)
	case err != nil:
		return nil, fmt.Errorf("loading enrollment: %w", err)
	}
	var enrollment Enrollment
	if err := json.Unmarshal(data, &enrollment); err != nil {
		return nil, e.Clear(ctx)
	}
	return &enrollment, nil
}

// Clear drops the pending enrollment
func (e *Enrollments) Clear(ctx context.Context) error {
	if err := e.kv.Delete(ctx, EnrollmentKey); err != nil {
		return fmt.Errorf("clearing enrollment: %w", err)
	}
	return nil
}
