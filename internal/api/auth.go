package api

import (
	"net/http"
	"time"

	"github.com/semanticweft/node/internal/apperr"
	"github.com/semanticweft/node/internal/identity"
)

// requireAgentAuth implements RequireAuth (spec §4.2): keyId is looked up in
// the agent registry and the request is verified against that agent's
// registered public key. Every failure mode — missing/malformed header,
// unknown agent, agent with no public key, bad signature, Date out of
// window — collapses to the same unauthorized error so a caller cannot
// learn which step failed (spec §7).
func (s *Server) requireAgentAuth(r *http.Request) (string, error) {
	keyID, err := identity.KeyIDFromRequest(r)
	if err != nil {
		return "", apperr.Unauthorizedf("missing or invalid request signature")
	}
	agent, err := s.Store.GetAgent(r.Context(), keyID)
	if err != nil {
		return "", apperr.Unauthorizedf("missing or invalid request signature")
	}
	if agent.PublicKeyMultibase == nil {
		return "", apperr.Unauthorizedf("missing or invalid request signature")
	}
	pub, err := identity.DecodePublicKeyMultibase(*agent.PublicKeyMultibase)
	if err != nil {
		return "", apperr.Unauthorizedf("missing or invalid request signature")
	}
	if _, err := identity.VerifyRequest(r, pub, time.Now()); err != nil {
		return "", apperr.Unauthorizedf("missing or invalid request signature")
	}
	return keyID, nil
}

// optionalAgentAuth attempts requireAgentAuth but treats any failure as an
// anonymous caller rather than rejecting the request. Used on read endpoints
// whose visibility widens under authentication without requiring it.
func (s *Server) optionalAgentAuth(r *http.Request) string {
	did, err := s.requireAgentAuth(r)
	if err != nil {
		return ""
	}
	return did
}

// requireNodeAuth implements NodeAuth (spec §4.2): keyId MUST be a did:key
// identifier, with its public key decoded directly from the identifier
// itself. There is no registry lookup, since a peer node need not be
// pre-registered as an agent.
func (s *Server) requireNodeAuth(r *http.Request) (string, error) {
	keyID, err := identity.KeyIDFromRequest(r)
	if err != nil {
		return "", apperr.Unauthorizedf("missing or invalid request signature")
	}
	pub, err := identity.DecodeDID(keyID)
	if err != nil {
		return "", apperr.Unauthorizedf("missing or invalid request signature")
	}
	if _, err := identity.VerifyRequest(r, pub, time.Now()); err != nil {
		return "", apperr.Unauthorizedf("missing or invalid request signature")
	}
	return keyID, nil
}
