package visibility

import (
	"context"
	"testing"
	"time"

	"github.com/semanticweft/node/internal/models"
	"github.com/semanticweft/node/internal/store"
	"github.com/semanticweft/node/internal/store/memory"
)

type fakeFollows struct{ edges map[[2]string]bool }

func (f fakeFollows) IsFollowing(_ context.Context, follower, followee string) (bool, error) {
	return f.edges[[2]string{follower, followee}], nil
}

func TestCanReadPublicAlwaysVisible(t *testing.T) {
	u := models.Unit{Author: "a"}
	ok, err := CanRead(context.Background(), u, "", fakeFollows{})
	if err != nil || !ok {
		t.Fatalf("public unit should be readable by anyone: ok=%v err=%v", ok, err)
	}
}

func TestCanReadNetworkRequiresFollowerOrAuthor(t *testing.T) {
	u := models.Unit{Author: "a", Visibility: models.VisibilityNetwork}
	follows := fakeFollows{edges: map[[2]string]bool{{"b", "a"}: true}}

	ok, _ := CanRead(context.Background(), u, "", follows)
	if ok {
		t.Fatal("unauthenticated caller should not read network unit")
	}
	ok, _ = CanRead(context.Background(), u, "c", follows)
	if ok {
		t.Fatal("non-follower should not read network unit")
	}
	ok, _ = CanRead(context.Background(), u, "b", follows)
	if !ok {
		t.Fatal("follower should read network unit")
	}
	ok, _ = CanRead(context.Background(), u, "a", follows)
	if !ok {
		t.Fatal("author should always read their own unit")
	}
}

func TestCanReadLimitedRequiresAudienceMembership(t *testing.T) {
	u := models.Unit{Author: "a", Visibility: models.VisibilityLimited, Audience: []string{"a"}}
	ok, _ := CanRead(context.Background(), u, "", fakeFollows{})
	if ok {
		t.Fatal("unauthenticated caller should not read limited unit")
	}
	ok, _ = CanRead(context.Background(), u, "a", fakeFollows{})
	if !ok {
		t.Fatal("author should read their own limited unit")
	}
}

func TestSubgraphDepthOneYieldsRootAndImmediateNeighboursOnly(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now()

	root := models.Unit{ID: "019526b2-f68a-7c3e-a0b4-000000000001", Type: models.UnitAssertion, Content: "root", Author: "a", CreatedAt: now}
	b := models.Unit{
		ID: "019526b2-f68a-7c3e-a0b4-000000000002", Type: models.UnitAssertion, Content: "b", Author: "a", CreatedAt: now,
		References: []models.Reference{{ID: root.ID, Rel: models.RelDerivesFrom}},
	}
	c := models.Unit{
		ID: "019526b2-f68a-7c3e-a0b4-000000000003", Type: models.UnitAssertion, Content: "c", Author: "a", CreatedAt: now,
		References: []models.Reference{{ID: b.ID, Rel: models.RelDerivesFrom}},
	}

	for _, u := range []models.Unit{root, b, c} {
		if _, _, err := s.PutUnit(ctx, u); err != nil {
			t.Fatalf("put %s: %v", u.ID, err)
		}
	}

	got, err := Subgraph(ctx, s, fakeFollows{}, root.ID, "", 1)
	if err != nil {
		t.Fatalf("subgraph depth=1: %v", err)
	}
	if !containsID(got, root.ID) || !containsID(got, b.ID) || containsID(got, c.ID) {
		t.Fatalf("depth=1 should yield {root, b} but not c, got %v", idsOf(got))
	}

	got2, err := Subgraph(ctx, s, fakeFollows{}, root.ID, "", 2)
	if err != nil {
		t.Fatalf("subgraph depth=2: %v", err)
	}
	if !containsID(got2, c.ID) {
		t.Fatalf("depth=2 should include c, got %v", idsOf(got2))
	}
}

func TestSubgraphReturnsNotFoundForInvisibleRoot(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	u := models.Unit{ID: "019526b2-f68a-7c3e-a0b4-000000000001", Type: models.UnitAssertion, Content: "x", Author: "a", CreatedAt: time.Now(), Visibility: models.VisibilityLimited, Audience: []string{"a"}}
	if _, _, err := s.PutUnit(ctx, u); err != nil {
		t.Fatal(err)
	}
	_, err := Subgraph(ctx, s, fakeFollows{}, u.ID, "", 1)
	if err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound for inaccessible root, got %v", err)
	}
}

func containsID(units []models.Unit, id string) bool {
	for _, u := range units {
		if u.ID == id {
			return true
		}
	}
	return false
}

func idsOf(units []models.Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.ID
	}
	return out
}
