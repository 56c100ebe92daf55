package federation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/semanticweft/node/internal/identity"
	"github.com/semanticweft/node/internal/models"
	"github.com/semanticweft/node/internal/registry"
	"github.com/semanticweft/node/internal/store/memory"
)

func testDiscovery(t *testing.T, self models.PeerRecord, maxPeers int) (*Discovery, *memory.Store) {
	t.Helper()
	s := memory.New()
	reg := registry.New(s, self.NodeID, 1.0)
	_, priv, did, err := identity.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	client := NewSignedClient(did, priv)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDiscovery(s, reg, client, self, maxPeers, logger), s
}

func discoveryDocHandler(nodeID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(DiscoveryDocument{
			NodeID:          nodeID,
			ProtocolVersion: "1",
			APIBase:         "http://example.invalid/v1",
			Capabilities:    []string{"sync"},
		})
	}
}

func TestTryAddPeerStoresVerifiedMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/.well-known/semanticweft" {
			discoveryDocHandler("peer-1")(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d, s := testDiscovery(t, models.PeerRecord{NodeID: "self"}, 0)
	ctx := context.Background()
	candidate := models.PeerRecord{NodeID: "peer-1", APIBase: srv.URL + "/v1", Reputation: 0.5}
	d.TryAddPeer(ctx, candidate)

	got, err := s.GetPeer(ctx, "peer-1")
	if err != nil {
		t.Fatalf("expected peer to be stored: %v", err)
	}
	if got.NodeID != "peer-1" {
		t.Fatalf("unexpected stored peer: %+v", got)
	}
}

func TestTryAddPeerRejectsNodeIDMismatch(t *testing.T) {
	srv := httptest.NewServer(discoveryDocHandler("someone-else"))
	defer srv.Close()

	d, s := testDiscovery(t, models.PeerRecord{NodeID: "self"}, 0)
	ctx := context.Background()
	candidate := models.PeerRecord{NodeID: "peer-1", APIBase: srv.URL + "/v1", Reputation: 0.5}
	d.TryAddPeer(ctx, candidate)

	if _, err := s.GetPeer(ctx, "peer-1"); err == nil {
		t.Fatal("a node_id mismatch must not be stored")
	}
}

func TestTryAddPeerStoresTentativelyWhenUnreachable(t *testing.T) {
	d, s := testDiscovery(t, models.PeerRecord{NodeID: "self"}, 0)
	ctx := context.Background()
	candidate := models.PeerRecord{NodeID: "peer-1", APIBase: "http://127.0.0.1:1/v1", Reputation: 0.5}
	d.TryAddPeer(ctx, candidate)

	if _, err := s.GetPeer(ctx, "peer-1"); err != nil {
		t.Fatalf("an unreachable peer should still be stored tentatively: %v", err)
	}
}

func TestTryAddPeerDropsWorseCandidateWhenAtCap(t *testing.T) {
	d, s := testDiscovery(t, models.PeerRecord{NodeID: "self"}, 1)
	ctx := context.Background()
	if _, err := s.UpsertPeer(ctx, models.PeerRecord{NodeID: "incumbent", APIBase: "http://incumbent.invalid/v1", Reputation: 0.9}); err != nil {
		t.Fatalf("seed incumbent: %v", err)
	}

	candidate := models.PeerRecord{NodeID: "peer-1", APIBase: "http://127.0.0.1:1/v1", Reputation: 0.1}
	d.TryAddPeer(ctx, candidate)

	if _, err := s.GetPeer(ctx, "peer-1"); err == nil {
		t.Fatal("a worse candidate at the peer cap must be dropped, not stored")
	}
	if _, err := s.GetPeer(ctx, "incumbent"); err != nil {
		t.Fatal("the incumbent peer must survive when the candidate is worse")
	}
}

func TestTryAddPeerEvictsWorstWhenCandidateIsBetter(t *testing.T) {
	srv := httptest.NewServer(discoveryDocHandler("peer-2"))
	defer srv.Close()

	d, s := testDiscovery(t, models.PeerRecord{NodeID: "self"}, 1)
	ctx := context.Background()
	if _, err := s.UpsertPeer(ctx, models.PeerRecord{NodeID: "incumbent", APIBase: "http://incumbent.invalid/v1", Reputation: 0.1}); err != nil {
		t.Fatalf("seed incumbent: %v", err)
	}

	candidate := models.PeerRecord{NodeID: "peer-2", APIBase: srv.URL + "/v1", Reputation: 0.9}
	d.TryAddPeer(ctx, candidate)

	if _, err := s.GetPeer(ctx, "incumbent"); err == nil {
		t.Fatal("the worst incumbent should have been evicted")
	}
	if _, err := s.GetPeer(ctx, "peer-2"); err != nil {
		t.Fatal("the better candidate should have been stored")
	}
}
