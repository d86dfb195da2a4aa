package jwt

import (
	"context"

	"github.com/jamestelfer/bearer-gate/internal/audit"
	"github.com/jamestelfer/bearer-gate/internal/gate"
	"github.com/rs/zerolog"
)

// TrustCheck is a validator confirming that the bearer token claims an issuer
// and key set location present and enabled in the whitelist held by the
// request pipeline. It does not verify the token: it runs before any key set
// is fetched so that tokens from untrusted issuers are rejected cheaply.
//
// On success the payload carries the matched TrustEntry under
// PayloadWhitelistItem and the unverified DecodedToken under PayloadToken.
type TrustCheck struct{}

var _ gate.Validator = TrustCheck{}

func (TrustCheck) Validate(ctx context.Context, inv gate.Invocation) gate.Result {
	raw, err := BearerToken(inv.Request)
	if err != nil {
		return gate.Fail(gate.KindMissingCredential, err.Error())
	}

	token, err := DecodeUnverified(raw)
	if err != nil {
		return gate.Failf(gate.KindUntrustedIssuer, "token could not be decoded: %v", err)
	}

	if token.Issuer == "" {
		return gate.Fail(gate.KindUntrustedIssuer, "token has no issuer")
	}

	var whitelist []TrustEntry
	if inv.Pipeline != nil {
		whitelist, _ = gate.Property[[]TrustEntry](inv.Pipeline, gate.PropertyWhitelist)
	}

	entry, ok := Lookup(whitelist, token.Issuer, token.KeySetURL)
	if !ok {
		zerolog.Ctx(ctx).Debug().
			Str("issuer", token.Issuer).
			Str("jku", token.KeySetURL).
			Int("whitelistSize", len(whitelist)).
			Msg("no trusted issuer matched")

		return gate.Failf(gate.KindUntrustedIssuer, "issuer %q with key set %q is not trusted", token.Issuer, token.KeySetURL)
	}

	audit.Log(ctx).TenantID = entry.TenantID

	return gate.Ok(gate.Payload{
		PayloadWhitelistItem: entry,
		PayloadToken:         token,
	})
}

// Lookup returns the first enabled whitelist entry matching the issuer and key
// set location.
func Lookup(whitelist []TrustEntry, issuer, keySetURL string) (TrustEntry, bool) {
	for _, entry := range whitelist {
		if entry.Matches(issuer, keySetURL) {
			return entry, true
		}
	}

	return TrustEntry{}, false
}
