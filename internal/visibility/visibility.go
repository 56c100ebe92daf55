// Package visibility builds the read-entitlement filter for a caller and
// performs bounded subgraph traversal. Policy lives here, not in the store
// (spec §9): store.ListFilter is the only channel through which visibility
// reaches storage.
package visibility

import (
	"context"

	"github.com/semanticweft/node/internal/models"
	"github.com/semanticweft/node/internal/store"
)

// FollowChecker answers whether follower follows followee, the single fact
// the visibility filter needs from the follow graph.
type FollowChecker interface {
	IsFollowing(ctx context.Context, follower, followee string) (bool, error)
}

// ReadSet is the set of visibility values a filter will admit.
type ReadSet []models.Visibility

// PublicOnly is the read-list set for unauthenticated callers (spec §4.3).
func PublicOnly() ReadSet { return ReadSet{models.VisibilityPublic} }

// ForCaller returns the visibility set list / sync endpoints should expose
// to caller (empty string for unauthenticated). It does NOT include
// "limited" — limited units only ever surface through get-by-id and
// subgraph, per spec §8's boundary behaviour that limited units never
// appear in GET /units or GET /sync regardless of auth.
func ForCaller(caller string) ReadSet {
	if caller == "" {
		return PublicOnly()
	}
	return ReadSet{models.VisibilityPublic, models.VisibilityNetwork}
}

// CanRead reports whether caller is entitled to read u, per the table in
// spec §4.3. An empty caller means unauthenticated.
func CanRead(ctx context.Context, u models.Unit, caller string, follows FollowChecker) (bool, error) {
	switch u.EffectiveVisibility() {
	case models.VisibilityPublic:
		return true, nil
	case models.VisibilityNetwork:
		if caller == "" {
			return false, nil
		}
		if caller == u.Author {
			return true, nil
		}
		return follows.IsFollowing(ctx, caller, u.Author)
	case models.VisibilityLimited:
		if caller == "" {
			return false, nil
		}
		if caller == u.Author {
			return true, nil
		}
		for _, a := range u.Audience {
			if a == caller {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, nil
	}
}

// Subgraph performs a bounded bidirectional BFS from root, following both
// outgoing references and the incoming index, admitting only units caller
// can read. depth is in hops; depth<=0 defaults to 10, and is clamped to
// 50 (spec §4.3). Units referenced but absent from the store are silently
// omitted.
func Subgraph(ctx context.Context, s store.Storage, follows FollowChecker, rootID, caller string, depth int) ([]models.Unit, error) {
	if depth <= 0 {
		depth = 10
	}
	if depth > 50 {
		depth = 50
	}

	root, err := s.GetUnit(ctx, rootID)
	if err != nil {
		return nil, err
	}
	ok, err := CanRead(ctx, root, caller, follows)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}

	visited := map[string]models.Unit{rootID: root}
	frontier := []string{rootID}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			u := visited[id]
			neighbourIDs := make([]string, 0, len(u.References))
			for _, ref := range u.References {
				neighbourIDs = append(neighbourIDs, ref.ID)
			}
			incoming, err := s.Incoming(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, in := range incoming {
				neighbourIDs = append(neighbourIDs, in.ID)
			}

			for _, nid := range neighbourIDs {
				if _, seen := visited[nid]; seen {
					continue
				}
				nu, err := s.GetUnit(ctx, nid)
				if err != nil {
					// forward reference to an absent unit: silently omit.
					continue
				}
				readable, err := CanRead(ctx, nu, caller, follows)
				if err != nil {
					return nil, err
				}
				if !readable {
					continue
				}
				visited[nid] = nu
				next = append(next, nid)
			}
		}
		frontier = next
	}

	out := make([]models.Unit, 0, len(visited))
	for _, u := range visited {
		out = append(out, u)
	}
	return out, nil
}
