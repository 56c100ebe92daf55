package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/semanticweft/node/internal/apperr"
	"github.com/semanticweft/node/internal/api/apiutil"
	"github.com/semanticweft/node/internal/models"
	"github.com/semanticweft/node/internal/store"
)

const (
	defaultInboxLimit = 20
	maxInboxLimit     = 100
)

type inboxPageResponse struct {
	Units      []models.Unit `json:"units"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// handleGetInbox implements GET /v1/agents/{did}/inbox (spec §6, §7). The
// agent-registered check runs before the identity check, and the identity
// mismatch itself reports 404 rather than 403: both failures must be
// indistinguishable from "no such agent" to an outside prober (spec §7's
// existence-leak rule).
func (s *Server) handleGetInbox(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")

	if _, err := s.Store.GetAgent(r.Context(), did); err == store.ErrNotFound {
		apiutil.WriteAppError(w, s.Logger, apperr.NotFoundf("agent not found"))
		return
	} else if err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("look up agent", err))
		return
	}

	callerDID, err := s.requireAgentAuth(r)
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	if callerDID != did {
		apiutil.WriteAppError(w, s.Logger, apperr.NotFoundf("agent not found"))
		return
	}

	q := r.URL.Query()
	limit := defaultInboxLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			apiutil.WriteAppError(w, s.Logger, apperr.InvalidParameterf("limit must be an integer"))
			return
		}
		limit = n
	}
	limit = store.ClampLimit(limit, defaultInboxLimit, maxInboxLimit)

	page, err := s.Store.ListInbox(r.Context(), did, q.Get("after"), limit)
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("list inbox", err))
		return
	}
	resp := inboxPageResponse{Units: page.Units}
	if page.HasMore {
		resp.NextCursor = page.Cursor
	}
	apiutil.WriteJSON(w, http.StatusOK, resp)
}

// handleDeliverInbox implements POST /v1/agents/{did}/inbox (spec §6): a
// peer node pushes a unit into a local agent's inbox, authenticated as
// NodeAuth rather than RequireAuth — the deliverer is a node, not the agent
// itself.
func (s *Server) handleDeliverInbox(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")

	if _, err := s.Store.GetAgent(r.Context(), did); err == store.ErrNotFound {
		apiutil.WriteAppError(w, s.Logger, apperr.NotFoundf("agent not found"))
		return
	} else if err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("look up agent", err))
		return
	}

	if _, err := s.requireNodeAuth(r); err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}

	var u models.Unit
	if err := apiutil.DecodeJSON(r, &u); err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	if err := models.Validate(&u); err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.ValidationFailedf(err.Error()))
		return
	}

	if _, err := s.Store.DeliverToInbox(r.Context(), did, u); err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("deliver to inbox", err))
		return
	}
	apiutil.WriteJSON(w, http.StatusCreated, u)
}
