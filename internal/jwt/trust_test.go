package jwt

import (
	"context"
	"testing"

	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/jamestelfer/bearer-gate/internal/audit"
	"github.com/jamestelfer/bearer-gate/internal/gate"
	"github.com/jamestelfer/bearer-gate/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sandboxIssuer = "https://sandbox.cds-hooks.org"
	sandboxJKU    = "https://sandbox.cds-hooks.org/.well-known/jwks.json"
)

func TestTrustCheck_Outcomes(t *testing.T) {
	testhelpers.SetupLogger(t)

	jwk := testhelpers.GenerateJWK(t, "kid")

	sandbox := TrustEntry{Issuer: sandboxIssuer, KeySetURL: sandboxJKU, TenantID: "sandbox", Enabled: true}
	disabled := sandbox
	disabled.Enabled = false

	claims := testhelpers.Valid(jwt.Claims{
		Issuer:   sandboxIssuer,
		Subject:  "subject",
		Audience: []string{testAudience},
	})

	cases := []struct {
		name      string
		whitelist []TrustEntry
		headers   map[string]any
		claims    []any
		wantKind  gate.Kind
		wantEntry TrustEntry
	}{
		{
			name:      "trusted",
			whitelist: []TrustEntry{sandbox},
			headers:   map[string]any{"jku": sandboxJKU},
			claims:    []any{claims},
			wantEntry: sandbox,
		},
		{
			name:      "trusted with trailing slash",
			whitelist: []TrustEntry{{Issuer: sandboxIssuer + "/", KeySetURL: sandboxJKU, Enabled: true}},
			headers:   map[string]any{"jku": sandboxJKU},
			claims:    []any{claims},
			wantEntry: TrustEntry{Issuer: sandboxIssuer + "/", KeySetURL: sandboxJKU, Enabled: true},
		},
		{
			name:      "key set location from claim",
			whitelist: []TrustEntry{sandbox},
			claims:    []any{claims, map[string]any{"jku": sandboxJKU}},
			wantEntry: sandbox,
		},
		{
			name:      "disabled entry",
			whitelist: []TrustEntry{disabled},
			headers:   map[string]any{"jku": sandboxJKU},
			claims:    []any{claims},
			wantKind:  gate.KindUntrustedIssuer,
		},
		{
			name:      "unknown issuer",
			whitelist: []TrustEntry{sandbox},
			headers:   map[string]any{"jku": sandboxJKU},
			claims: []any{testhelpers.Valid(jwt.Claims{
				Issuer:   "https://evil.example",
				Audience: []string{testAudience},
			})},
			wantKind: gate.KindUntrustedIssuer,
		},
		{
			name:      "different key set location",
			whitelist: []TrustEntry{sandbox},
			headers:   map[string]any{"jku": "https://evil.example/jwks.json"},
			claims:    []any{claims},
			wantKind:  gate.KindUntrustedIssuer,
		},
		{
			name:      "no key set location",
			whitelist: []TrustEntry{sandbox},
			claims:    []any{claims},
			wantKind:  gate.KindUntrustedIssuer,
		},
		{
			name:      "no issuer",
			whitelist: []TrustEntry{sandbox},
			headers:   map[string]any{"jku": sandboxJKU},
			claims:    []any{testhelpers.Valid(jwt.Claims{Audience: []string{testAudience}})},
			wantKind:  gate.KindUntrustedIssuer,
		},
		{
			name:     "no whitelist",
			headers:  map[string]any{"jku": sandboxJKU},
			claims:   []any{claims},
			wantKind: gate.KindUntrustedIssuer,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token := testhelpers.CreateJWT(t, jwk, tc.headers, tc.claims...)

			pipeline := &gate.Pipeline{}
			if tc.whitelist != nil {
				pipeline.Set(gate.PropertyWhitelist, tc.whitelist)
			}

			result := TrustCheck{}.Validate(context.Background(), invocation(token, nil, pipeline))

			if tc.wantKind != "" {
				require.False(t, result.OK())
				assert.Equal(t, tc.wantKind, result.Err.Kind)
				assert.Nil(t, result.Payload)
				return
			}

			require.True(t, result.OK(), "unexpected failure: %v", result.Err)
			assert.Equal(t, tc.wantEntry, result.Payload[PayloadWhitelistItem])

			token2, ok := result.Payload[PayloadToken].(DecodedToken)
			require.True(t, ok)
			assert.Equal(t, sandboxIssuer, token2.Issuer)
			assert.Equal(t, sandboxJKU, token2.KeySetURL)
			assert.Equal(t, "kid", token2.KeyID)
		})
	}
}

func TestTrustCheck_MissingCredential(t *testing.T) {
	result := TrustCheck{}.Validate(context.Background(), invocation("", nil, nil))

	require.False(t, result.OK())
	assert.Equal(t, gate.KindMissingCredential, result.Err.Kind)
}

func TestTrustCheck_Undecodable(t *testing.T) {
	for _, raw := range []string{"garbage", "a.b.c", "e30.e30"} {
		t.Run(raw, func(t *testing.T) {
			result := TrustCheck{}.Validate(context.Background(), invocation(raw, nil, nil))

			require.False(t, result.OK())
			assert.Equal(t, gate.KindUntrustedIssuer, result.Err.Kind)
		})
	}
}

func TestTrustCheck_FirstEnabledMatchWins(t *testing.T) {
	jwk := testhelpers.GenerateJWK(t, "kid")
	token := testhelpers.CreateJWT(t, jwk, map[string]any{"jku": sandboxJKU}, testhelpers.Valid(jwt.Claims{
		Issuer: sandboxIssuer,
	}))

	pipeline := &gate.Pipeline{}
	pipeline.Set(gate.PropertyWhitelist, []TrustEntry{
		{Issuer: sandboxIssuer, KeySetURL: sandboxJKU, TenantID: "off", Enabled: false},
		{Issuer: sandboxIssuer, KeySetURL: sandboxJKU, TenantID: "first", Enabled: true},
		{Issuer: sandboxIssuer, KeySetURL: sandboxJKU, TenantID: "second", Enabled: true},
	})

	result := TrustCheck{}.Validate(context.Background(), invocation(token, nil, pipeline))
	require.True(t, result.OK())

	entry := result.Payload[PayloadWhitelistItem].(TrustEntry)
	assert.Equal(t, "first", entry.TenantID)
}

func TestTrustCheck_Idempotent(t *testing.T) {
	jwk := testhelpers.GenerateJWK(t, "kid")
	token := testhelpers.CreateJWT(t, jwk, map[string]any{"jku": sandboxJKU}, testhelpers.Valid(jwt.Claims{
		Issuer: sandboxIssuer,
	}))

	pipeline := &gate.Pipeline{}
	pipeline.Set(gate.PropertyWhitelist, []TrustEntry{{Issuer: sandboxIssuer, KeySetURL: sandboxJKU, Enabled: true}})

	first := TrustCheck{}.Validate(context.Background(), invocation(token, nil, pipeline))
	second := TrustCheck{}.Validate(context.Background(), invocation(token, nil, pipeline))

	assert.Equal(t, first, second)
}

func TestTrustCheck_RecordsTenant(t *testing.T) {
	jwk := testhelpers.GenerateJWK(t, "kid")
	token := testhelpers.CreateJWT(t, jwk, map[string]any{"jku": sandboxJKU}, testhelpers.Valid(jwt.Claims{
		Issuer: sandboxIssuer,
	}))

	pipeline := &gate.Pipeline{}
	pipeline.Set(gate.PropertyWhitelist, []TrustEntry{{Issuer: sandboxIssuer, KeySetURL: sandboxJKU, TenantID: "tenant-a", Enabled: true}})

	ctx, entry := audit.Context(context.Background())

	result := TrustCheck{}.Validate(ctx, invocation(token, nil, pipeline))
	require.True(t, result.OK())

	assert.Equal(t, "tenant-a", entry.TenantID)
}

func TestLookup(t *testing.T) {
	whitelist := []TrustEntry{
		{Issuer: "https://a.example", KeySetURL: "https://a.example/jwks", Enabled: true},
		{Issuer: "https://b.example/", KeySetURL: "https://b.example/jwks/", Enabled: true},
	}

	_, ok := Lookup(whitelist, "https://a.example", "https://a.example/jwks")
	assert.True(t, ok)

	_, ok = Lookup(whitelist, "https://b.example", "https://b.example/jwks")
	assert.True(t, ok)

	_, ok = Lookup(whitelist, "https://a.example", "https://b.example/jwks")
	assert.False(t, ok)

	_, ok = Lookup(nil, "https://a.example", "https://a.example/jwks")
	assert.False(t, ok)
}
