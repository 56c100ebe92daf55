package federation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/semanticweft/node/internal/identity"
	"github.com/semanticweft/node/internal/models"
	"github.com/semanticweft/node/internal/registry"
	"github.com/semanticweft/node/internal/store"
	"github.com/semanticweft/node/internal/store/memory"
)

func testPuller(t *testing.T) (*Puller, store.Storage) {
	t.Helper()
	s := memory.New()
	reg := registry.New(s, "did:key:self", 1.0)
	_, priv, did, err := identity.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	client := NewSignedClient(did, priv)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPuller(s, reg, client, logger), s
}

func fixtureUnit(id, content string) models.Unit {
	return models.Unit{
		ID:        id,
		Type:      models.UnitAssertion,
		Content:   content,
		CreatedAt: time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC),
		Author:    "did:key:zPeerAuthor",
	}
}

func TestSyncPeerStoresUnitsLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := syncPage{Units: []models.Unit{fixtureUnit("019526b2-0000-7000-a000-000000000001", "page1")}, HasMore: false, Cursor: "019526b2-0000-7000-a000-000000000001"}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	p, s := testPuller(t)
	ctx := context.Background()
	if err := p.SyncPeer(ctx, models.PeerRecord{NodeID: "peer-1", APIBase: srv.URL}); err != nil {
		t.Fatalf("sync peer: %v", err)
	}

	page, err := s.ListUnits(ctx, store.ListFilter{Limit: 50})
	if err != nil {
		t.Fatalf("list units: %v", err)
	}
	if len(page.Units) != 1 {
		t.Fatalf("expected 1 unit stored, got %d", len(page.Units))
	}
}

func TestSyncPeerAdvancesCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := syncPage{Units: []models.Unit{fixtureUnit("019526b2-0000-7000-a000-000000000001", "page1")}, HasMore: false, Cursor: "019526b2-0000-7000-a000-000000000001"}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	p, s := testPuller(t)
	ctx := context.Background()
	peer := models.PeerRecord{NodeID: "peer-1", APIBase: srv.URL}

	if _, ok, _ := s.GetCursor(ctx, peer.APIBase); ok {
		t.Fatal("expected no cursor before first sync")
	}
	if err := p.SyncPeer(ctx, peer); err != nil {
		t.Fatalf("sync peer: %v", err)
	}
	cursor, ok, err := s.GetCursor(ctx, peer.APIBase)
	if err != nil || !ok {
		t.Fatalf("expected cursor to be set, err=%v ok=%v", err, ok)
	}
	if cursor != "019526b2-0000-7000-a000-000000000001" {
		t.Fatalf("unexpected cursor %q", cursor)
	}
}

func TestSyncPeerIgnoresDuplicateUnits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := syncPage{Units: []models.Unit{fixtureUnit("019526b2-0000-7000-a000-000000000001", "page1")}, HasMore: false}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	p, s := testPuller(t)
	ctx := context.Background()
	existing := fixtureUnit("019526b2-0000-7000-a000-000000000001", "page1")
	if _, _, err := s.PutUnit(ctx, existing); err != nil {
		t.Fatalf("seed unit: %v", err)
	}

	if err := p.SyncPeer(ctx, models.PeerRecord{NodeID: "peer-1", APIBase: srv.URL}); err != nil {
		t.Fatalf("sync peer: %v", err)
	}
	page, err := s.ListUnits(ctx, store.ListFilter{Limit: 50})
	if err != nil {
		t.Fatalf("list units: %v", err)
	}
	if len(page.Units) != 1 {
		t.Fatalf("expected exactly one unit, got %d", len(page.Units))
	}
}

func TestSyncPeerDrainsMultiplePages(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			page := syncPage{Units: []models.Unit{fixtureUnit("019526b2-0000-7000-a000-000000000001", "page1")}, HasMore: true, Cursor: "019526b2-0000-7000-a000-000000000001"}
			json.NewEncoder(w).Encode(page)
			return
		}
		page := syncPage{Units: []models.Unit{fixtureUnit("019526b2-0000-7000-a000-000000000002", "page2")}, HasMore: false, Cursor: "019526b2-0000-7000-a000-000000000002"}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	p, s := testPuller(t)
	ctx := context.Background()
	peer := models.PeerRecord{NodeID: "peer-1", APIBase: srv.URL}
	if err := p.SyncPeer(ctx, peer); err != nil {
		t.Fatalf("sync peer: %v", err)
	}
	page, err := s.ListUnits(ctx, store.ListFilter{Limit: 50})
	if err != nil {
		t.Fatalf("list units: %v", err)
	}
	if len(page.Units) != 2 {
		t.Fatalf("expected both pages stored, got %d", len(page.Units))
	}
	cursor, _, _ := s.GetCursor(ctx, peer.APIBase)
	if cursor != "019526b2-0000-7000-a000-000000000002" {
		t.Fatalf("unexpected final cursor %q", cursor)
	}
}

func TestSyncPeerNonSuccessStatusIsLoggedAndSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := testPuller(t)
	ctx := context.Background()
	peer := models.PeerRecord{NodeID: "peer-1", APIBase: srv.URL}
	if err := p.SyncPeer(ctx, peer); err == nil {
		t.Fatal("expected an error from a non-2xx peer response")
	}
}

func TestSyncPeerComputesCredibilityFromPeerAndAuthorReputation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := fixtureUnit("019526b2-0000-7000-a000-000000000001", "page1")
		page := syncPage{
			Units:             []models.Unit{u},
			HasMore:           false,
			AuthorReputations: map[string]float64{u.Author: 0.8},
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	p, s := testPuller(t)
	ctx := context.Background()
	peer := models.PeerRecord{NodeID: "peer-1", APIBase: srv.URL, Reputation: 0.6}
	if _, err := s.UpsertPeer(ctx, peer); err != nil {
		t.Fatalf("seed peer: %v", err)
	}

	if err := p.SyncPeer(ctx, peer); err != nil {
		t.Fatalf("sync peer: %v", err)
	}
	cred, ok, err := s.GetUnitCredibility(ctx, "019526b2-0000-7000-a000-000000000001")
	if err != nil || !ok {
		t.Fatalf("expected credibility to be set, err=%v ok=%v", err, ok)
	}
	want := 0.6 * 0.8
	if diff := cred - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("credibility = %v, want %v", cred, want)
	}
}
