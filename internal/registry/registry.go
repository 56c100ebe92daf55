// Package registry implements the agent/follow/peer registry (spec §4.3 of
// the system overview) and orchestrates the reputation vote preconditions
// and update rule (spec §4.5) for both its surfaces.
package registry

import (
	"context"

	"github.com/semanticweft/node/internal/apperr"
	"github.com/semanticweft/node/internal/models"
	"github.com/semanticweft/node/internal/reputation"
	"github.com/semanticweft/node/internal/store"
)

// Registry wraps a store.Storage with the business rules of the agent,
// follow, and peer surfaces.
type Registry struct {
	store       store.Storage
	selfNodeID  string
	sigmaFactor float64
}

// New returns a Registry over s. selfNodeID is this node's own identifier,
// used to enforce the self-vote prohibition on peer votes. sigmaFactor is
// the configured reputation-vote-sigma-factor (default 1.0).
func New(s store.Storage, selfNodeID string, sigmaFactor float64) *Registry {
	if sigmaFactor == 0 {
		sigmaFactor = 1.0
	}
	return &Registry{store: s, selfNodeID: selfNodeID, sigmaFactor: sigmaFactor}
}

func (r *Registry) UpsertAgent(ctx context.Context, profile models.AgentProfile) (models.AgentProfile, error) {
	return r.store.UpsertAgent(ctx, profile)
}

func (r *Registry) GetAgent(ctx context.Context, did string) (models.AgentProfile, error) {
	a, err := r.store.GetAgent(ctx, did)
	if err == store.ErrNotFound {
		return models.AgentProfile{}, apperr.NotFoundf("agent not found")
	}
	return a, err
}

func (r *Registry) DeleteAgent(ctx context.Context, did string) error {
	return r.store.DeleteAgent(ctx, did)
}

func (r *Registry) AddFollow(ctx context.Context, follower, followee string) error {
	return r.store.AddFollow(ctx, follower, followee)
}

func (r *Registry) RemoveFollow(ctx context.Context, follower, followee string) error {
	return r.store.RemoveFollow(ctx, follower, followee)
}

func (r *Registry) ListFollowing(ctx context.Context, did, after string, limit int) (store.FollowPage, error) {
	return r.store.ListFollowing(ctx, did, after, limit)
}

func (r *Registry) ListFollowers(ctx context.Context, did, after string, limit int) (store.FollowPage, error) {
	return r.store.ListFollowers(ctx, did, after, limit)
}

func (r *Registry) UpsertPeer(ctx context.Context, peer models.PeerRecord) (models.PeerRecord, error) {
	return r.store.UpsertPeer(ctx, peer)
}

func (r *Registry) GetPeer(ctx context.Context, nodeID string) (models.PeerRecord, error) {
	p, err := r.store.GetPeer(ctx, nodeID)
	if err == store.ErrNotFound {
		return models.PeerRecord{}, apperr.NotFoundf("peer not found")
	}
	return p, err
}

func (r *Registry) ListPeers(ctx context.Context) ([]models.PeerRecord, error) {
	return r.store.ListPeers(ctx)
}

// VotePeerReputation applies a reputation vote from callerNodeID on the
// peer targetNodeID, enforcing the preconditions of spec §4.5.
func (r *Registry) VotePeerReputation(ctx context.Context, targetNodeID, callerNodeID string, proposed float64) (models.PeerRecord, error) {
	if !reputation.FiniteUnit(proposed) {
		return models.PeerRecord{}, apperr.InvalidParameterf("reputation must be a finite number in [0, 1]")
	}
	if targetNodeID == r.selfNodeID {
		return models.PeerRecord{}, apperr.Forbiddenf("cannot vote on this node's own reputation")
	}
	if callerNodeID == "" {
		return models.PeerRecord{}, apperr.Forbiddenf("caller node identifier is required")
	}
	caller, err := r.store.GetPeer(ctx, callerNodeID)
	if err == store.ErrNotFound {
		return models.PeerRecord{}, apperr.Forbiddenf("caller is not a known community member")
	}
	if err != nil {
		return models.PeerRecord{}, apperr.Internalf("look up caller peer", err)
	}

	peers, err := r.store.ListPeers(ctx)
	if err != nil {
		return models.PeerRecord{}, apperr.Internalf("list peer community", err)
	}
	values := make([]float64, len(peers))
	for i, p := range peers {
		values[i] = p.Reputation
	}
	threshold := reputation.Threshold(values, r.sigmaFactor)
	if caller.Reputation < threshold {
		return models.PeerRecord{}, apperr.Forbiddenf("caller reputation is below the community voting threshold")
	}

	target, err := r.store.GetPeer(ctx, targetNodeID)
	if err == store.ErrNotFound {
		return models.PeerRecord{}, apperr.NotFoundf("peer not found")
	}
	if err != nil {
		return models.PeerRecord{}, apperr.Internalf("look up target peer", err)
	}

	newRep := reputation.Vote(target.Reputation, proposed, caller.Reputation)
	if err := r.store.UpdatePeerReputation(ctx, targetNodeID, newRep); err != nil {
		return models.PeerRecord{}, apperr.Internalf("update peer reputation", err)
	}
	target.Reputation = newRep
	return target, nil
}

// VoteAgentReputation applies a reputation vote from callerDID on the agent
// targetDID, enforcing the preconditions of spec §4.5. Self-votes by an
// agent on itself are not prohibited by spec text for agents (only peer
// self-votes are named); they are still gated by community membership and
// threshold like any other vote.
func (r *Registry) VoteAgentReputation(ctx context.Context, targetDID, callerDID string, proposed float64) (models.AgentProfile, error) {
	if !reputation.FiniteUnit(proposed) {
		return models.AgentProfile{}, apperr.InvalidParameterf("reputation must be a finite number in [0, 1]")
	}
	if callerDID == "" {
		return models.AgentProfile{}, apperr.Forbiddenf("caller identity is required")
	}
	caller, err := r.store.GetAgent(ctx, callerDID)
	if err == store.ErrNotFound {
		return models.AgentProfile{}, apperr.Forbiddenf("caller is not a known community member")
	}
	if err != nil {
		return models.AgentProfile{}, apperr.Internalf("look up caller agent", err)
	}

	agents, err := r.store.ListAgents(ctx)
	if err != nil {
		return models.AgentProfile{}, apperr.Internalf("list agent community", err)
	}
	values := make([]float64, len(agents))
	for i, a := range agents {
		values[i] = a.Reputation
	}
	threshold := reputation.Threshold(values, r.sigmaFactor)
	if caller.Reputation < threshold {
		return models.AgentProfile{}, apperr.Forbiddenf("caller reputation is below the community voting threshold")
	}

	target, err := r.store.GetAgent(ctx, targetDID)
	if err == store.ErrNotFound {
		return models.AgentProfile{}, apperr.NotFoundf("agent not found")
	}
	if err != nil {
		return models.AgentProfile{}, apperr.Internalf("look up target agent", err)
	}

	newRep := reputation.Vote(target.Reputation, proposed, caller.Reputation)
	if err := r.store.UpdateAgentReputation(ctx, targetDID, newRep); err != nil {
		return models.AgentProfile{}, apperr.Internalf("update agent reputation", err)
	}
	target.Reputation = newRep
	return target, nil
}

// PeerReputationOrDefault returns the stored reputation for nodeID, or the
// spec default of 0.5 when the peer is unknown.
func (r *Registry) PeerReputationOrDefault(ctx context.Context, nodeID string) float64 {
	p, err := r.store.GetPeer(ctx, nodeID)
	if err != nil {
		return 0.5
	}
	return p.Reputation
}

// IsFollowing implements visibility.FollowChecker.
func (r *Registry) IsFollowing(ctx context.Context, follower, followee string) (bool, error) {
	return r.store.IsFollowing(ctx, follower, followee)
}
