package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// mint issues a signed development token for exercising a locally running
// gate. The key set file holds private keys; publish its public half at the
// location given by -jku.
func main() {
	jwksPath := flag.String("keys", ".development/keys/jwks.private.json", "private key set file")
	kid := flag.String("kid", "test-key", "key identifier to sign with")
	issuer := flag.String("iss", "https://local.testing", "token issuer")
	audience := flag.String("aud", "test-audience", "token audience")
	subject := flag.String("sub", "subject", "token subject")
	jku := flag.String("jku", "https://local.testing/.well-known/jwks.json", "key set location placed in the token header")
	lifetime := flag.Duration("ttl", 5*time.Minute, "token lifetime")
	flag.Parse()

	jwksBytes, err := os.ReadFile(*jwksPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading jwks: %v\n", err)
		os.Exit(1)
	}

	jwks := jose.JSONWebKeySet{}
	err = json.Unmarshal(jwksBytes, &jwks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading jwks: %v\n", err)
		os.Exit(1)
	}

	keys := jwks.Key(*kid)
	if len(keys) == 0 {
		fmt.Fprintf(os.Stderr, "key %q not found in %s\n", *kid, *jwksPath)
		os.Exit(1)
	}

	token, err := createJWT(&keys[0], *jku, validity(jwt.Claims{
		Audience: []string{*audience},
		Subject:  *subject,
		Issuer:   *issuer,
	}, *lifetime))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating JWT: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s", token)
}

func validity(claims jwt.Claims, ttl time.Duration) jwt.Claims {
	now := time.Now().UTC()

	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now.Add(-1 * time.Minute))
	claims.Expiry = jwt.NewNumericDate(now.Add(ttl))

	return claims
}

func createJWT(jwk *jose.JSONWebKey, jku string, claims ...any) (string, error) {
	key := jose.SigningKey{
		Algorithm: jose.SignatureAlgorithm(jwk.Algorithm),
		Key:       jwk,
	}

	opts := (&jose.SignerOptions{}).WithType("JWT")
	if jku != "" {
		opts = opts.WithHeader("jku", jku)
	}

	signer, err := jose.NewSigner(key, opts)
	if err != nil {
		return "", err
	}

	builder := jwt.Signed(signer)

	for _, claim := range claims {
		builder = builder.Claims(claim)
	}

	return builder.Serialize()
}
