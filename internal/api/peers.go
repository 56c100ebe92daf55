package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/semanticweft/node/internal/apperr"
	"github.com/semanticweft/node/internal/api/apiutil"
	"github.com/semanticweft/node/internal/models"
)

type peersListResponse struct {
	Peers []models.PeerRecord `json:"peers"`
}

type addPeerRequest struct {
	NodeID  string `json:"node_id"`
	APIBase string `json:"api_base"`
}

// handleListPeers implements GET /v1/peers.
func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.Registry.ListPeers(r.Context())
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("list peers", err))
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, peersListResponse{Peers: peers})
}

// handleAddPeer implements POST /v1/peers: upserts a peer announcement,
// preserving any existing reputation rather than resetting it on re-announce.
// It stores the peer and responds immediately, then kicks off an async
// reachability check against the peer's discovery document (spec §7.2
// SHOULD), nudging its reputation once the check completes so the endpoint
// itself never blocks on an outbound call.
func (s *Server) handleAddPeer(w http.ResponseWriter, r *http.Request) {
	var body addPeerRequest
	if err := apiutil.DecodeJSON(r, &body); err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	if body.NodeID == "" || body.APIBase == "" {
		apiutil.WriteAppError(w, s.Logger, apperr.InvalidParameterf("node_id and api_base are required"))
		return
	}

	record := models.DefaultPeerRecord(body.NodeID, body.APIBase)
	if existing, err := s.Registry.GetPeer(r.Context(), body.NodeID); err == nil {
		record.Reputation = existing.Reputation
		record.LastContact = existing.LastContact
	}

	stored, err := s.Registry.UpsertPeer(r.Context(), record)
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("upsert peer", err))
		return
	}

	if s.Discovery != nil {
		go s.Discovery.VerifyAndNudgePeer(context.Background(), stored)
	}

	apiutil.WriteJSON(w, http.StatusCreated, stored)
}

// handleVotePeerReputation implements PATCH /v1/peers/{node_id} (spec §4.5).
// The caller identifies itself via the X-Node-ID header rather than a
// signature (recovered from the original, which authenticates this endpoint
// by membership header rather than HTTP Signature). Every precondition —
// value validity, self-vote prohibition, header presence, community
// membership, voting threshold, target existence, in that order — is
// enforced by registry.VotePeerReputation; the handler's only job is to
// extract the header and pass it through untouched, since even a missing
// header must surface as the registry's own "caller node identifier is
// required" forbidden error rather than being special-cased here.
func (s *Server) handleVotePeerReputation(w http.ResponseWriter, r *http.Request) {
	targetNodeID := chi.URLParam(r, "node_id")

	var body voteReputationRequest
	if err := apiutil.DecodeJSON(r, &body); err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}

	callerNodeID := r.Header.Get("X-Node-ID")
	updated, err := s.Registry.VotePeerReputation(r.Context(), targetNodeID, callerNodeID, body.Reputation)
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, updated)
}
