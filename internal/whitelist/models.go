package whitelist

import "github.com/jamestelfer/bearer-gate/internal/jwt"

// File is the on-disk layout of the trust list.
type File struct {
	Issuers []Entry `yaml:"issuers"`
}

// Entry is a trust list record as written in the file. Enabled is optional
// and defaults to true; every other field maps directly to jwt.TrustEntry.
type Entry struct {
	Issuer      string `yaml:"issuer"`
	KeySetURL   string `yaml:"jku"`
	TenantID    string `yaml:"tenant_id"`
	RouteTenant string `yaml:"route_tenant"`
	Enabled     *bool  `yaml:"enabled"`
}

func (e Entry) trustEntry() jwt.TrustEntry {
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}

	return jwt.TrustEntry{
		Issuer:      e.Issuer,
		KeySetURL:   e.KeySetURL,
		TenantID:    e.TenantID,
		RouteTenant: e.RouteTenant,
		Enabled:     enabled,
	}
}
