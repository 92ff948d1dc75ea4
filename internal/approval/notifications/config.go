package notifications

import (
	"time"

	"approval-sync/internal/common/config"
	"approval-sync/internal/models"
)

// DefaultRecencyWindow bounds how old a pending entity may be to appear in
// the listing fallback.
const DefaultRecencyWindow = 24 * time.Hour

// Config controls the fetcher.
type Config struct {
	// UseEndpoint consults the notifications endpoint before the listing.
	UseEndpoint bool
	// RecencyWindow limits the fallback to entities created within it.
	// Zero disables the limit.
	RecencyWindow time.Duration
	// RecencyKinds are the kinds the window applies to.
	RecencyKinds []models.EntityKind
	// Now is the time source; nil means time.Now.
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		UseEndpoint:   true,
		RecencyWindow: DefaultRecencyWindow,
		RecencyKinds:  []models.EntityKind{models.KindBusiness},
	}
}

// NewConfig maps the application config onto the fetcher config.
func NewConfig(cfg config.NotificationConfig) Config {
	return Config{
		UseEndpoint:   cfg.UseEndpoint(),
		RecencyWindow: cfg.RecencyWindowDuration(),
		RecencyKinds:  []models.EntityKind{models.KindBusiness},
	}
}

func (c Config) windowed(kind models.EntityKind) bool {
	if c.RecencyWindow <= 0 {
		return false
	}
	for _, k := range c.RecencyKinds {
		if k == kind {
			return true
		}
	}
	return false
}
