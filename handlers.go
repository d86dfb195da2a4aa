package main

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/jamestelfer/bearer-gate/internal/audit"
	"github.com/jamestelfer/bearer-gate/internal/gate"
	"github.com/jamestelfer/bearer-gate/internal/jwt"
	"github.com/rs/zerolog/log"
)

// identity is the response of GET /validated: who the verified token speaks
// for and which trust list entry admitted it.
type identity struct {
	Subject     string    `json:"subject"`
	Issuer      string    `json:"issuer"`
	Audience    []string  `json:"audience"`
	TenantID    string    `json:"tenantId,omitempty"`
	RouteTenant string    `json:"routeTenant,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Validations []string  `json:"validations"`
}

// serviceResponse is an empty CDS Hooks response: the gate is the point of
// this service, not decision support.
type serviceResponse struct {
	Service string `json:"service"`
	Cards   []any  `json:"cards"`
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func handleGetValidated() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the verified token must be present from the gates
		token, ok := pipelineToken(r)
		if !ok {
			log.Error().Msg("verified token not present in pipeline, likely used outside of the gate middleware")
			requestError(w, http.StatusInternalServerError)
			return
		}

		entry, _ := gate.FromContext(r.Context()).Payload(gateTrust)[jwt.PayloadWhitelistItem].(jwt.TrustEntry)

		writeJSON(w, identity{
			Subject:     token.Subject,
			Issuer:      token.Issuer,
			Audience:    token.Audience,
			TenantID:    entry.TenantID,
			RouteTenant: entry.RouteTenant,
			ExpiresAt:   token.ExpiresAt,
			Validations: audit.Log(r.Context()).Validations,
		})
	})
}

func handlePostService() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Ensure that the request body is fully read prior to returning. This
		// avoids issues with blocked connections and connection reuse.
		defer func() { _, _ = io.Copy(io.Discard, r.Body) }()

		if _, ok := pipelineToken(r); !ok {
			log.Error().Msg("verified token not present in pipeline, likely used outside of the gate middleware")
			requestError(w, http.StatusInternalServerError)
			return
		}

		writeJSON(w, serviceResponse{
			Service: r.PathValue("id"),
			Cards:   []any{},
		})
	})
}

func pipelineToken(r *http.Request) (jwt.DecodedToken, bool) {
	token, ok := gate.FromContext(r.Context()).Payload(gateVerified)[jwt.PayloadToken].(jwt.DecodedToken)
	return token, ok
}

func writeJSON(w http.ResponseWriter, body any) {
	marshalledResponse, err := json.Marshal(body)
	if err != nil {
		requestError(w, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(marshalledResponse)
	if err != nil {
		// record failure to log: trying to respond to the client at this
		// point will likely fail
		log.Info().Msgf("failed to write response: %v\n", err)
		return
	}
}

func requestError(w http.ResponseWriter, statusCode int) {
	http.Error(w, http.StatusText(statusCode), statusCode)
}
