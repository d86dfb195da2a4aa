package jwt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/jamestelfer/bearer-gate/internal/audit"
	"github.com/jamestelfer/bearer-gate/internal/gate"
	"github.com/jamestelfer/bearer-gate/internal/keyset"
	"github.com/rs/zerolog"
)

// Static options read by the Verifier.
const (
	// OptionAudience is the audience the token must be issued for. Required.
	OptionAudience = "audience"
	// OptionKeySetURL is the location of the key set used to verify tokens.
	OptionKeySetURL = "keySetURL"
	// OptionIssuer is the issuer the token must carry.
	OptionIssuer = "issuer"
	// OptionTrustResult names the TrustCheck result in the pipeline. When set,
	// the matched whitelist entry supplies the key set location and issuer if
	// they are not configured explicitly.
	OptionTrustResult = "trustResult"
)

// DefaultLeeway is the clock skew tolerated when validating time claims.
const DefaultLeeway = 5 * time.Second

// signatureAlgorithms are accepted for verification. Symmetric and "none"
// algorithms are never accepted for keys published in a key set.
var signatureAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
}

// KeyResolver supplies verification keys. It is satisfied by *keyset.Resolver.
type KeyResolver interface {
	Resolve(ctx context.Context, location, kid string) (keyset.Key, error)
	Invalidate(location string)
}

// Verifier is a validator that cryptographically verifies the bearer token
// against the issuer's published key set, then validates its time claims,
// audience and issuer. On success the payload carries the verified
// DecodedToken under PayloadToken.
//
// Key rotation is tolerated without background refresh: if verification fails
// with a key served from the cache, or the key is unknown after a cold fetch,
// the cached key set is invalidated and verification is retried exactly once.
type Verifier struct {
	keys   KeyResolver
	leeway time.Duration
	clock  func() time.Time
}

var _ gate.Validator = (*Verifier)(nil)

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithLeeway sets the clock skew tolerated for time claims.
func WithLeeway(leeway time.Duration) VerifierOption {
	return func(v *Verifier) { v.leeway = leeway }
}

// WithClock sets the source of the current time.
func WithClock(clock func() time.Time) VerifierOption {
	return func(v *Verifier) { v.clock = clock }
}

// NewVerifier creates a verifier resolving keys with the given resolver.
func NewVerifier(keys KeyResolver, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		keys:   keys,
		leeway: DefaultLeeway,
		clock:  time.Now,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func (v *Verifier) Validate(ctx context.Context, inv gate.Invocation) gate.Result {
	raw, err := BearerToken(inv.Request)
	if err != nil {
		return gate.Fail(gate.KindMissingCredential, err.Error())
	}

	audience := inv.String(OptionAudience)
	if audience == "" {
		return gate.Fail(gate.KindInternalValidatorFault, "verifier has no audience configured")
	}

	location, issuer := target(inv)
	if location == "" {
		return gate.Fail(gate.KindInternalValidatorFault, "verifier has no key set location")
	}

	sig, err := jose.ParseSignedCompact(raw, signatureAlgorithms)
	if err != nil {
		return gate.Failf(gate.KindInvalidSignature, "token could not be parsed: %v", err)
	}
	if len(sig.Signatures) != 1 {
		return gate.Fail(gate.KindInvalidSignature, "token must carry exactly one signature")
	}

	header := sig.Signatures[0].Header
	if header.KeyID == "" {
		return gate.Fail(gate.KindKeyNotFound, "token does not identify its signing key")
	}

	payload, result := v.verify(ctx, sig, location, header)
	if !result.OK() {
		return result
	}

	result = v.validateClaims(payload, header.KeyID, location, audience, issuer)
	if token, ok := result.Payload[PayloadToken].(DecodedToken); ok {
		entry := audit.Log(ctx)
		entry.Authorized = true
		entry.AuthSubject = token.Subject
		entry.AuthIssuer = token.Issuer
		entry.AuthAudience = token.Audience
		entry.AuthExpirySecs = token.ExpiresAt.Unix()
	}

	return result
}

// verify checks the signature. A key identifier missing from the cached key
// set invalidates it and is resolved again at most once; a key that is found
// but does not verify the token is never refetched.
func (v *Verifier) verify(ctx context.Context, sig *jose.JSONWebSignature, location string, header jose.Header) ([]byte, gate.Result) {
	log := zerolog.Ctx(ctx)
	retried := false

	for {
		key, err := v.keys.Resolve(ctx, location, header.KeyID)
		if err != nil {
			var notFound *keyset.KeyNotFoundError
			if errors.As(err, &notFound) {
				if !notFound.Refetched && !retried {
					retried = true

					log.Info().
						Str("jku", location).
						Str("kid", header.KeyID).
						Msg("key not found in cached key set, invalidating and retrying")

					v.keys.Invalidate(location)
					continue
				}
				return nil, gate.Fail(gate.KindKeyNotFound, err.Error())
			}

			return nil, gate.Fail(gate.KindFetchFailed, err.Error())
		}

		if key.Algorithm != "" && key.Algorithm != header.Algorithm {
			return nil, gate.Failf(gate.KindInvalidSignature, "token algorithm %s does not match key %s", header.Algorithm, key.Algorithm)
		}

		payload, err := sig.Verify(key.JSONWebKey)
		if err != nil {
			log.Debug().
				Str("jku", location).
				Str("kid", header.KeyID).
				Bool("cached", key.Cached).
				Err(err).
				Msg("signature verification failed")

			return nil, gate.Failf(gate.KindInvalidSignature, "signature verification failed: %v", err)
		}

		return payload, gate.Ok(nil)
	}
}

func (v *Verifier) validateClaims(payload []byte, kid, location, audience, issuer string) gate.Result {
	var registered jwt.Claims
	if err := json.Unmarshal(payload, &registered); err != nil {
		return gate.Failf(gate.KindInvalidSignature, "token claims are malformed: %v", err)
	}

	if registered.Expiry == nil {
		return gate.Fail(gate.KindTokenExpired, "token has no expiry")
	}

	err := registered.ValidateWithLeeway(jwt.Expected{Time: v.clock()}, v.leeway)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrExpired):
		return gate.Fail(gate.KindTokenExpired, err.Error())
	case errors.Is(err, jwt.ErrNotValidYet), errors.Is(err, jwt.ErrIssuedInTheFuture):
		return gate.Fail(gate.KindTokenNotYetValid, err.Error())
	default:
		return gate.Failf(gate.KindInvalidSignature, "token claims are invalid: %v", err)
	}

	if !registered.Audience.Contains(audience) {
		return gate.Failf(gate.KindAudienceMismatch, "token is not issued for audience %q", audience)
	}

	if issuer != "" && !sameLocation(registered.Issuer, issuer) {
		return gate.Failf(gate.KindUntrustedIssuer, "token issuer %q does not match %q", registered.Issuer, issuer)
	}

	claims := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&claims); err != nil {
		return gate.Failf(gate.KindInvalidSignature, "token claims are malformed: %v", err)
	}

	token, err := decodeClaims(kid, location, claims)
	if err != nil {
		return gate.Failf(gate.KindInvalidSignature, "token claims are malformed: %v", err)
	}

	return gate.Ok(gate.Payload{PayloadToken: token})
}

// target determines the key set location and expected issuer from the static
// options, falling back to the whitelist entry matched by an earlier trust
// check.
func target(inv gate.Invocation) (location, issuer string) {
	location = inv.String(OptionKeySetURL)
	issuer = inv.String(OptionIssuer)

	trustResult := inv.String(OptionTrustResult)
	if trustResult == "" || inv.Pipeline == nil {
		return location, issuer
	}

	entry, ok := inv.Pipeline.Payload(trustResult)[PayloadWhitelistItem].(TrustEntry)
	if !ok {
		return location, issuer
	}

	if location == "" {
		location = entry.KeySetURL
	}
	if issuer == "" {
		issuer = entry.Issuer
	}

	return location, issuer
}
