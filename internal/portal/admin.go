package portal

import (
	"context"
	"net/http"
)

// Settings are the company-wide preferences managed by administrators
type Settings struct {
	CompanyName     string `json:"companyName" validate:"required"`
	Currency        string `json:"currency" validate:"required,len=3,uppercase"`
	Timezone        string `json:"timezone" validate:"required,timezone"`
	FiscalYearStart string `json:"fiscalYearStart" validate:"required,datetime=01-02"`
	MFARequired     bool   `json:"mfaRequired"`
}

// Settings returns the current company settings
func (s *Service) Settings(ctx context.Context) (Settings, error) {
	return get[Settings](ctx, s.client, "/admin/settings")
}

// UpdateSettings replaces the company settings. Requires the admin role;
// the server answers 403 otherwise.
func (s *Service) UpdateSettings(ctx context.Context, settings Settings) (Settings, error) {
	if err := s.validate(settings); err != nil {
		return Settings{}, err
	}
	return send[Settings](ctx, s.client, http.MethodPut, "/admin/settings", settings, "")
}
