package jwt

import (
	"fmt"
	"strings"
	"time"
)

// Registered claim and header names read from tokens.
const (
	claimIssuer    = "iss"
	claimSubject   = "sub"
	claimAudience  = "aud"
	claimIssuedAt  = "iat"
	claimExpiresAt = "exp"
	claimKeySetURL = "jku"
)

// TrustEntry is a single record of the caller supplied whitelist. The
// whitelist is an ordered slice; the first enabled entry that matches a
// token's issuer and key set location is used.
type TrustEntry struct {
	Issuer      string `yaml:"issuer" json:"issuer"`
	KeySetURL   string `yaml:"jku" json:"jku"`
	TenantID    string `yaml:"tenant_id" json:"tenantId"`
	RouteTenant string `yaml:"route_tenant" json:"routeTenant"`
	Enabled     bool   `yaml:"enabled" json:"enabled"`
}

// Matches reports whether the entry is enabled and names the given issuer and
// key set location. A trailing slash is not significant.
func (e TrustEntry) Matches(issuer, keySetURL string) bool {
	return e.Enabled &&
		sameLocation(e.Issuer, issuer) &&
		sameLocation(e.KeySetURL, keySetURL)
}

// DecodedToken is the claim content of a bearer token. Values produced by the
// Verifier have passed signature and claim validation; values produced by
// DecodeUnverified have not.
type DecodedToken struct {
	Issuer    string         `json:"iss"`
	Audience  []string       `json:"aud,omitempty"`
	KeyID     string         `json:"kid,omitempty"`
	KeySetURL string         `json:"jku,omitempty"`
	Subject   string         `json:"sub,omitempty"`
	IssuedAt  time.Time      `json:"iat,omitempty"`
	ExpiresAt time.Time      `json:"exp,omitempty"`
	Claims    map[string]any `json:"claims,omitempty"`
}

// HasAudience reports whether aud is one of the token's audiences.
func (t DecodedToken) HasAudience(aud string) bool {
	for _, a := range t.Audience {
		if a == aud {
			return true
		}
	}
	return false
}

// decodeClaims builds a DecodedToken from the header values and the raw claim
// set of a token. The key set location is taken from the header when present,
// falling back to a "jku" claim.
func decodeClaims(kid, headerKeySetURL string, claims map[string]any) (DecodedToken, error) {
	t := DecodedToken{
		KeyID:     kid,
		KeySetURL: headerKeySetURL,
		Claims:    claims,
	}

	var err error

	if t.Issuer, err = stringClaim(claims, claimIssuer); err != nil {
		return DecodedToken{}, err
	}
	if t.Subject, err = stringClaim(claims, claimSubject); err != nil {
		return DecodedToken{}, err
	}
	if t.Audience, err = audienceClaim(claims); err != nil {
		return DecodedToken{}, err
	}
	if t.IssuedAt, err = timeClaim(claims, claimIssuedAt); err != nil {
		return DecodedToken{}, err
	}
	if t.ExpiresAt, err = timeClaim(claims, claimExpiresAt); err != nil {
		return DecodedToken{}, err
	}

	if t.KeySetURL == "" {
		if t.KeySetURL, err = stringClaim(claims, claimKeySetURL); err != nil {
			return DecodedToken{}, err
		}
	}

	return t, nil
}

func stringClaim(claims map[string]any, name string) (string, error) {
	v, ok := claims[name]
	if !ok || v == nil {
		return "", nil
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("invalid '%s' claim type %T", name, v)
	}

	return s, nil
}

// audienceClaim accepts the single string and list forms of "aud".
func audienceClaim(claims map[string]any) ([]string, error) {
	switch v := claims[claimAudience].(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		aud := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid '%s' claim member type %T", claimAudience, item)
			}
			aud = append(aud, s)
		}
		return aud, nil
	default:
		return nil, fmt.Errorf("invalid '%s' claim type %T", claimAudience, v)
	}
}

// timeClaim reads a NumericDate claim (seconds since the epoch).
func timeClaim(claims map[string]any, name string) (time.Time, error) {
	var secs float64

	switch v := claims[name].(type) {
	case nil:
		return time.Time{}, nil
	case float64:
		secs = v
	case int64:
		secs = float64(v)
	case int:
		secs = float64(v)
	case interface{ Float64() (float64, error) }:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid '%s' claim: %w", name, err)
		}
		secs = f
	default:
		return time.Time{}, fmt.Errorf("invalid '%s' claim type %T", name, v)
	}

	whole := int64(secs)
	frac := int64((secs - float64(whole)) * float64(time.Second))

	return time.Unix(whole, frac).UTC(), nil
}

func sameLocation(a, b string) bool {
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}
