package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/semanticweft/node/internal/apperr"
	"github.com/semanticweft/node/internal/api/apiutil"
	"github.com/semanticweft/node/internal/store"
)

const (
	defaultFollowPageLimit = 50
	maxFollowPageLimit     = 200
)

type followRequest struct {
	FollowerDID string `json:"follower_did"`
	TargetDID   string `json:"target_did"`
}

type followEntry struct {
	DID      string  `json:"did"`
	InboxURL *string `json:"inbox_url,omitempty"`
}

type followPageResponse struct {
	Items      []followEntry `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// handleFollow implements POST /v1/agents/{did}/following (spec §6):
// body.follower_did must equal the path did, the authenticated caller must
// equal the path did, and the follower must already be a registered agent
// on this node — recovered from the original implementation, which refuses
// to record a follow edge for a follower that has no local inbox to target.
// The target need not be registered; it may live on another node entirely.
func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	pathDID := chi.URLParam(r, "did")

	var body followRequest
	if err := apiutil.DecodeJSON(r, &body); err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	if body.FollowerDID != pathDID {
		apiutil.WriteAppError(w, s.Logger, apperr.InvalidParameterf("follower_did must match the path did"))
		return
	}

	callerDID, err := s.requireAgentAuth(r)
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	if callerDID != pathDID {
		apiutil.WriteAppError(w, s.Logger, apperr.Forbiddenf("cannot follow on behalf of another did"))
		return
	}

	if _, err := s.Store.GetAgent(r.Context(), pathDID); err == store.ErrNotFound {
		apiutil.WriteAppError(w, s.Logger, apperr.NotFoundf("follower must be registered on this node"))
		return
	} else if err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("look up follower agent", err))
		return
	}

	if err := s.Registry.AddFollow(r.Context(), body.FollowerDID, body.TargetDID); err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("add follow", err))
		return
	}
	apiutil.WriteNoContent(w)
}

// handleUnfollow implements DELETE /v1/agents/{did}/following/{target}. The
// delete is idempotent: unfollowing a relationship that never existed is
// still a 204.
func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	pathDID := chi.URLParam(r, "did")
	target := chi.URLParam(r, "target")

	callerDID, err := s.requireAgentAuth(r)
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	if callerDID != pathDID {
		apiutil.WriteAppError(w, s.Logger, apperr.Forbiddenf("cannot unfollow on behalf of another did"))
		return
	}
	if err := s.Registry.RemoveFollow(r.Context(), pathDID, target); err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.Internalf("remove follow", err))
		return
	}
	apiutil.WriteNoContent(w)
}

// handleListFollowing implements GET /v1/agents/{did}/following. Unlike the
// original, which always returns a null cursor (no pagination was ever
// implemented there), this paginates for real using the store's existing
// after/limit support — a supplemented capability rather than a behavior
// change to any documented invariant.
func (s *Server) handleListFollowing(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	page, err := s.parseFollowPage(r, func(after string, limit int) (store.FollowPage, error) {
		return s.Registry.ListFollowing(r.Context(), did, after, limit)
	})
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, page)
}

// handleListFollowers implements GET /v1/agents/{did}/followers.
func (s *Server) handleListFollowers(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	page, err := s.parseFollowPage(r, func(after string, limit int) (store.FollowPage, error) {
		return s.Registry.ListFollowers(r.Context(), did, after, limit)
	})
	if err != nil {
		apiutil.WriteAppError(w, s.Logger, err)
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, page)
}

// parseFollowPage reads the after/limit query parameters, calls fetch, and
// shapes the result into the wire response of spec §6.
func (s *Server) parseFollowPage(r *http.Request, fetch func(after string, limit int) (store.FollowPage, error)) (followPageResponse, error) {
	q := r.URL.Query()
	limit := defaultFollowPageLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return followPageResponse{}, apperr.InvalidParameterf("limit must be an integer")
		}
		limit = n
	}
	limit = store.ClampLimit(limit, defaultFollowPageLimit, maxFollowPageLimit)

	page, err := fetch(q.Get("after"), limit)
	if err != nil {
		return followPageResponse{}, apperr.Internalf("list follow edges", err)
	}

	items := make([]followEntry, 0, len(page.DIDs))
	for _, did := range page.DIDs {
		items = append(items, followEntry{DID: did})
	}
	resp := followPageResponse{Items: items}
	if page.HasMore {
		resp.NextCursor = page.Cursor
	}
	return resp, nil
}
