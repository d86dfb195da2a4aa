package jwt

import (
	"errors"
	"fmt"
	"net/http"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	golangjwt "github.com/golang-jwt/jwt/v4"
)

// Payload keys written by the validators in this package.
const (
	PayloadWhitelistItem = "whiteListItem"
	PayloadToken         = "token"
)

// ErrMissingCredential is returned when the request has no bearer token.
var ErrMissingCredential = errors.New("no bearer token in Authorization header")

// BearerToken returns the bearer token presented in the request's
// Authorization header.
func BearerToken(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingCredential
	}

	token, err := jwtmiddleware.AuthHeaderTokenExtractor(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingCredential, err)
	}

	if token == "" {
		return "", ErrMissingCredential
	}

	return token, nil
}

// DecodeUnverified reads the header and claims of a token without checking
// its signature. The result must only be used for decisions that precede
// verification, such as trust list lookup.
func DecodeUnverified(raw string) (DecodedToken, error) {
	parser := golangjwt.NewParser()

	token, _, err := parser.ParseUnverified(raw, golangjwt.MapClaims{})
	if err != nil {
		return DecodedToken{}, fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(golangjwt.MapClaims)
	if !ok {
		return DecodedToken{}, errors.New("invalid token claims")
	}

	kid, _ := token.Header["kid"].(string)
	jku, _ := token.Header["jku"].(string)

	return decodeClaims(kid, jku, claims)
}
