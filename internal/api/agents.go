package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/semanticweft/node/internal/apperr"
	"github.com/semanticweft/node/internal/api/apiutil"
	"github.com/semanticweft/node/internal/models"
	"github.com/semanticweft/node/internal/store"
)

type registerAgentRequest struct {
	DID                string  `json:"did"`
	InboxURL           string  `json:"inbox_url"`
	DisplayName        *string `json:"display_name,omitempty"`
	PublicKeyMultibase *string `json:"public_key_multibase,omitempty"`
}

type voteReputationRequest struct {
	Reputation float64 `json:"reputation"`
}

// handleRegisterAgent implements POST /v1/agents/{did} (spec §6): registers
// or updates the caller's own agent profile. The body's did must match the
// path, and the authenticated caller must match the path too — two distinct
// failure modes (400 vs 403). Upsert always reports 201, matching the
// original's uniform response regardless of create vs update.
func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	pathDID := chi.URLParam(r, "did")

	var body registerAgentRequest
	if err := apiutil.DecodeJSON(r, &body); err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	if body.DID != pathDID {
		apiutil.WriteAppError(w, s.Logger, apperr.InvalidParameterf("body did must match the path did"))
		return
	}

	callerDID, err := s.requireAgentAuth(r)
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	if callerDID != pathDID {
		apiutil.WriteAppError(w, s.Logger, apperr.Forbiddenf("cannot register an agent profile on behalf of another did"))
		return
	}

	profile := models.DefaultAgentProfile(body.DID, body.InboxURL)
	profile.DisplayName = body.DisplayName
	profile.PublicKeyMultibase = body.PublicKeyMultibase
	if existing, err := s.Store.GetAgent(r.Context(), pathDID); err == nil {
		profile.Status = existing.Status
		profile.ContributionCount = existing.ContributionCount
		profile.Reputation = existing.Reputation
	}

	stored, err := s.Registry.UpsertAgent(r.Context(), profile)
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("upsert agent", err))
		return
	}
	apiutil.WriteJSON(w, http.StatusCreated, stored)
}

// handleGetAgent implements GET /v1/agents/{did}: public, no auth required.
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	agent, err := s.Store.GetAgent(r.Context(), did)
	if err == store.ErrNotFound {
		apiutil.WriteAppError(w, s.Logger, apperr.NotFoundf("agent not found"))
		return
	}
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("look up agent", err))
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, agent)
}

// handleDeleteAgent implements DELETE /v1/agents/{did}: the caller must be
// the agent itself.
func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	callerDID, err := s.requireAgentAuth(r)
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	if callerDID != did {
		apiutil.WriteAppError(w, s.Logger, apperr.Forbiddenf("cannot delete another did's agent profile"))
		return
	}
	if err := s.Registry.DeleteAgent(r.Context(), did); err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("delete agent", err))
		return
	}
	apiutil.WriteNoContent(w)
}

// handleVoteAgentReputation implements PATCH /v1/agents/{did} (spec §4.5):
// the second of the reputation engine's two surfaces, voted by the
// authenticated caller's own identity rather than a caller-id header.
func (s *Server) handleVoteAgentReputation(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	callerDID, err := s.requireAgentAuth(r)
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	var body voteReputationRequest
	if err := apiutil.DecodeJSON(r, &body); err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	updated, err := s.Registry.VoteAgentReputation(r.Context(), did, callerDID, body.Reputation)
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, updated)
}
