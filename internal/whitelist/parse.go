package whitelist

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jamestelfer/bearer-gate/internal/jwt"
	"gopkg.in/yaml.v3"
)

// Parse reads a YAML trust list. Order is preserved: the first enabled entry
// matching a token wins at lookup time.
func Parse(data []byte) ([]jwt.TrustEntry, error) {
	file := File{}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing whitelist: %w", err)
	}

	entries := make([]jwt.TrustEntry, 0, len(file.Issuers))
	for i, raw := range file.Issuers {
		entry := sanitize(raw.trustEntry())
		if err := validate(entry); err != nil {
			return nil, fmt.Errorf("whitelist entry %d: %w", i, err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func sanitize(entry jwt.TrustEntry) jwt.TrustEntry {
	entry.Issuer = strings.TrimSuffix(strings.TrimSpace(entry.Issuer), "/")
	entry.KeySetURL = strings.TrimSuffix(strings.TrimSpace(entry.KeySetURL), "/")
	entry.TenantID = strings.TrimSpace(entry.TenantID)
	entry.RouteTenant = strings.TrimSpace(entry.RouteTenant)

	return entry
}

func validate(entry jwt.TrustEntry) error {
	if entry.Issuer == "" {
		return errors.New("issuer is required")
	}

	if entry.KeySetURL == "" {
		return errors.New("jku is required")
	}

	u, err := url.Parse(entry.KeySetURL)
	if err != nil {
		return fmt.Errorf("jku is not a valid URL: %w", err)
	}

	if !u.IsAbs() || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("jku %q must be an absolute http(s) URL", entry.KeySetURL)
	}

	return nil
}
