package registry

import (
	"context"
	"testing"

	"github.com/semanticweft/node/internal/apperr"
	"github.com/semanticweft/node/internal/models"
	"github.com/semanticweft/node/internal/store/memory"
)

func TestVotePeerReputationScenarioFromSpec(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := New(s, "did:key:zself", 1.0)

	if _, err := s.UpsertPeer(ctx, models.PeerRecord{NodeID: "voter", APIBase: "https://voter", Reputation: 1.0}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertPeer(ctx, models.PeerRecord{NodeID: "target", APIBase: "https://target", Reputation: 0.5}); err != nil {
		t.Fatal(err)
	}

	updated, err := r.VotePeerReputation(ctx, "target", "voter", 0.9)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if updated.Reputation != 0.9 {
		t.Fatalf("expected reputation 0.9, got %v", updated.Reputation)
	}
}

func TestVotePeerReputationRejectsSelfVote(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := New(s, "did:key:zself", 1.0)
	_, err := r.VotePeerReputation(ctx, "did:key:zself", "voter", 0.9)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.Forbidden {
		t.Fatalf("expected forbidden error for self-vote, got %v", err)
	}
}

func TestVotePeerReputationRejectsUnknownCaller(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := New(s, "did:key:zself", 1.0)
	if _, err := s.UpsertPeer(ctx, models.PeerRecord{NodeID: "target", APIBase: "https://target", Reputation: 0.5}); err != nil {
		t.Fatal(err)
	}
	_, err := r.VotePeerReputation(ctx, "target", "stranger", 0.9)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.Forbidden {
		t.Fatalf("expected forbidden error for unknown caller, got %v", err)
	}
}

func TestVotePeerReputationRejectsBelowThresholdCaller(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := New(s, "did:key:zself", 1.0)
	if _, err := s.UpsertPeer(ctx, models.PeerRecord{NodeID: "low", APIBase: "https://low", Reputation: 0.0}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertPeer(ctx, models.PeerRecord{NodeID: "high", APIBase: "https://high", Reputation: 1.0}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertPeer(ctx, models.PeerRecord{NodeID: "target", APIBase: "https://target", Reputation: 0.5}); err != nil {
		t.Fatal(err)
	}
	_, err := r.VotePeerReputation(ctx, "target", "low", 0.9)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.Forbidden {
		t.Fatalf("expected forbidden error for below-threshold voter, got %v", err)
	}
}

func TestVotePeerReputationRejectsMissingTarget(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := New(s, "did:key:zself", 1.0)
	if _, err := s.UpsertPeer(ctx, models.PeerRecord{NodeID: "voter", APIBase: "https://voter", Reputation: 1.0}); err != nil {
		t.Fatal(err)
	}
	_, err := r.VotePeerReputation(ctx, "ghost", "voter", 0.9)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.NotFound {
		t.Fatalf("expected not_found error for missing target, got %v", err)
	}
}
