package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/semanticweft/node/internal/apperr"
	"github.com/semanticweft/node/internal/api/apiutil"
	"github.com/semanticweft/node/internal/identity"
	"github.com/semanticweft/node/internal/models"
	"github.com/semanticweft/node/internal/store"
	"github.com/semanticweft/node/internal/visibility"
)

const (
	defaultUnitPageLimit = 50
	maxUnitPageLimit     = 500
)

type unitPageResponse struct {
	Units   []models.Unit `json:"units"`
	Cursor  string        `json:"cursor,omitempty"`
	HasMore bool          `json:"has_more"`
}

type subgraphResponse struct {
	Units []models.Unit `json:"units"`
}

// handleSubmitUnit implements POST /v1/units (spec §6, §8): validates the
// unit, verifies its proof when one is attached, and stores it. A second
// submission of the same id with identical canonical content is idempotent
// (200); identical id with different content conflicts (409); anything that
// fails validation is 422.
func (s *Server) handleSubmitUnit(w http.ResponseWriter, r *http.Request) {
	var u models.Unit
	if err := apiutil.DecodeJSON(r, &u); err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	if err := models.Validate(&u); err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.ValidationFailedf(err.Error()))
		return
	}
	if u.Proof != nil {
		if err := identity.VerifyUnitProof(u); err != nil {
			apiutil.WriteAppError(w, s.Logger, apperr.ValidationFailedf("proof does not verify: "+err.Error()))
			return
		}
	}

	stored, created, err := s.Store.PutUnit(r.Context(), u)
	if err == store.ErrConflict {
		apiutil.WriteAppError(w, s.Logger, apperr.IDConflictf("a unit with this id already exists with different content"))
		return
	}
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("store unit", err))
		return
	}

	if created {
		if err := s.Bus.PublishUnitStored(r.Context(), stored); err != nil {
			s.Logger.Warn("could not publish unit-stored event", "unit_id", stored.ID, "error", err.Error())
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	apiutil.WriteJSON(w, status, stored)
}

// handleGetUnit implements GET /v1/units/{id}.
func (s *Server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !models.IsUUIDv7(id) {
		apiutil.WriteAppError(w, s.Logger, apperr.InvalidParameterf("id must be a valid identifier"))
		return
	}
	u, err := s.Store.GetUnit(r.Context(), id)
	if err == store.ErrNotFound {
		apiutil.WriteAppError(w, s.Logger, apperr.NotFoundf("unit not found"))
		return
	}
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("look up unit", err))
		return
	}

	caller := s.optionalAgentAuth(r)
	ok, err := visibility.CanRead(r.Context(), u, caller, s.Registry)
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("check visibility", err))
		return
	}
	if !ok {
		// Existence-leak rule (spec §7): a unit the caller cannot see must
		// be indistinguishable from one that does not exist.
		apiutil.WriteAppError(w, s.Logger, apperr.NotFoundf("unit not found"))
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, u)
}

// handleSubgraph implements GET /v1/units/{id}/subgraph?depth=.
func (s *Server) handleSubgraph(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	depth := 0
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			apiutil.WriteAppError(w, s.Logger, apperr.InvalidParameterf("depth must be an integer"))
			return
		}
		depth = n
	}

	caller := s.optionalAgentAuth(r)
	units, err := visibility.Subgraph(r.Context(), s.Store, s.Registry, id, caller, depth)
	if err == store.ErrNotFound {
		apiutil.WriteAppError(w, s.Logger, apperr.NotFoundf("unit not found"))
		return
	}
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("traverse subgraph", err))
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, subgraphResponse{Units: units})
}

// handleListUnits implements GET /v1/units (spec §6, §8): unauthenticated
// callers see only public units; authenticated callers additionally see
// network-visibility units. Limited units never appear in a listing.
func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	caller := s.optionalAgentAuth(r)
	filter, err := s.parseListFilter(r, caller)
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	page, err := s.Store.ListUnits(r.Context(), filter)
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("list units", err))
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, unitPageResponse{
		Units:   page.Units,
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	})
}

// parseListFilter builds a store.ListFilter from query parameters and the
// caller's visibility entitlement, shared by the units listing and the
// plain (non-SSE) branch of /v1/sync.
func (s *Server) parseListFilter(r *http.Request, caller string) (store.ListFilter, error) {
	q := r.URL.Query()

	filter := store.ListFilter{
		Author:     q.Get("author"),
		After:      q.Get("after"),
		Visibility: visibility.ForCaller(caller),
	}

	if v := q.Get("type"); v != "" {
		for _, kind := range strings.Split(v, ",") {
			ut := models.UnitType(strings.TrimSpace(kind))
			if !ut.Valid() {
				return store.ListFilter{}, apperr.InvalidParameterf("type must be one of assertion, question, inference, challenge, constraint")
			}
			filter.Kinds = append(filter.Kinds, ut)
		}
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return store.ListFilter{}, apperr.InvalidParameterf("since must be an RFC 3339 timestamp")
		}
		filter.Since = t
	}

	limit := defaultUnitPageLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return store.ListFilter{}, apperr.InvalidParameterf("limit must be an integer")
		}
		limit = n
	}
	filter.Limit = store.ClampLimit(limit, defaultUnitPageLimit, maxUnitPageLimit)

	return filter, nil
}
