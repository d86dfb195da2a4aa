package testhelpers

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// GenerateJWK creates an RSA signing key with the given key identifier.
func GenerateJWK(t *testing.T, kid string) *jose.JSONWebKey {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate private key")

	return &jose.JSONWebKey{
		Key:       privateKey,
		KeyID:     kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}
}

// GenerateECJWK creates an ECDSA P-256 signing key with the given key
// identifier.
func GenerateECJWK(t *testing.T, kid string) *jose.JSONWebKey {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err, "failed to generate private key")

	return &jose.JSONWebKey{
		Key:       privateKey,
		KeyID:     kid,
		Algorithm: string(jose.ES256),
		Use:       "sig",
	}
}

// KeySetServer is a test server publishing a JSON key set. The published keys
// can be replaced while the server runs and every fetch is counted.
type KeySetServer struct {
	*httptest.Server

	mu      sync.Mutex
	keys    []jose.JSONWebKey
	fetches atomic.Int32
	delay   time.Duration
	status  int
}

// NewKeySetServer starts a server publishing the public halves of the given
// keys at /.well-known/jwks.json. The server is closed when the test ends.
func NewKeySetServer(t *testing.T, keys ...*jose.JSONWebKey) *KeySetServer {
	t.Helper()

	s := &KeySetServer{status: http.StatusOK}
	s.SetKeys(keys...)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}

		s.fetches.Add(1)

		s.mu.Lock()
		delay, status := s.delay, s.status
		set := jose.JSONWebKeySet{Keys: append([]jose.JSONWebKey(nil), s.keys...)}
		s.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(set); err != nil {
			t.Errorf("failed to write key set: %v", err)
		}
	}))
	t.Cleanup(s.Close)

	return s
}

// KeySetURL returns the location of the published key set.
func (s *KeySetServer) KeySetURL() string {
	return s.URL + "/.well-known/jwks.json"
}

// SetKeys replaces the published keys.
func (s *KeySetServer) SetKeys(keys ...*jose.JSONWebKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys = s.keys[:0]
	for _, k := range keys {
		s.keys = append(s.keys, k.Public())
	}
}

// SetDelay makes each fetch wait before responding.
func (s *KeySetServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetStatus makes each fetch respond with the given status code.
func (s *KeySetServer) SetStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Fetches returns the number of key set requests served.
func (s *KeySetServer) Fetches() int {
	return int(s.fetches.Load())
}

// Valid sets the time based claims so that the token is currently valid.
func Valid(claims jwt.Claims) jwt.Claims {
	now := time.Now().UTC()

	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now.Add(-1 * time.Minute))
	claims.Expiry = jwt.NewNumericDate(now.Add(1 * time.Minute))

	return claims
}

// Expired sets the time based claims so that the token expired an hour ago.
func Expired(claims jwt.Claims) jwt.Claims {
	past := time.Now().UTC().Add(-2 * time.Hour)

	claims.IssuedAt = jwt.NewNumericDate(past)
	claims.NotBefore = jwt.NewNumericDate(past)
	claims.Expiry = jwt.NewNumericDate(past.Add(1 * time.Hour))

	return claims
}

// CreateJWT signs the supplied claims with the key. Extra header parameters
// (such as "jku") are added to the protected header.
func CreateJWT(t *testing.T, jwk *jose.JSONWebKey, headers map[string]any, claims ...any) string {
	t.Helper()

	key := jose.SigningKey{
		Algorithm: jose.SignatureAlgorithm(jwk.Algorithm),
		Key:       jwk,
	}

	opts := (&jose.SignerOptions{}).WithType("JWT")
	for k, v := range headers {
		opts = opts.WithHeader(jose.HeaderKey(k), v)
	}

	signer, err := jose.NewSigner(key, opts)
	require.NoError(t, err)

	builder := jwt.Signed(signer)
	for _, claim := range claims {
		builder = builder.Claims(claim)
	}

	token, err := builder.Serialize()
	require.NoError(t, err)

	return token
}
