package api

import (
	"context"
	"crypto/ed25519"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/semanticweft/node/internal/config"
	"github.com/semanticweft/node/internal/eventbus"
	"github.com/semanticweft/node/internal/federation"
	"github.com/semanticweft/node/internal/identity"
	"github.com/semanticweft/node/internal/models"
	"github.com/semanticweft/node/internal/ratelimit"
	"github.com/semanticweft/node/internal/registry"
	"github.com/semanticweft/node/internal/store/memory"

	"log/slog"
)

// newTestServer builds a Server over the in-memory store with rate limiting
// disabled, mirroring the teacher's own handler-test setup style (a bare
// struct, no httptest.Server, requests driven straight through the router).
func newTestServer() *Server {
	s := memory.New()
	nodePub, nodePriv, nodeDID, err := identity.NewKeypair()
	if err != nil {
		panic(err)
	}
	reg := registry.New(s, nodeDID, 1.0)
	cfg := &config.Config{APIBase: "https://node.example", NodeName: "test-node"}
	bus := eventbus.NewLocalBus()
	limiter := ratelimit.New(0, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := federation.NewSignedClient(nodeDID, nodePriv)
	self := models.PeerRecord{NodeID: nodeDID, APIBase: cfg.APIBase}
	disc := federation.NewDiscovery(s, reg, client, self, 0, logger)
	return NewServer(cfg, s, reg, bus, nil, nil, disc, limiter, nodeDID, nodePub, nodePriv, logger)
}

// signedRequest builds a request signed as keyID using priv, the same
// (request-target)/host/date signing string internal/identity produces for
// outbound federation calls.
func signedRequest(method, target string, priv ed25519.PrivateKey, keyID string, body io.Reader) *http.Request {
	r := httptest.NewRequest(method, target, body)
	r.Host = "node.example"
	pathAndQuery := r.URL.Path
	if r.URL.RawQuery != "" {
		pathAndQuery += "?" + r.URL.RawQuery
	}
	dateHeader, sigHeader := identity.Sign(priv, keyID, method, pathAndQuery, r.Host, time.Now())
	r.Header.Set("Date", dateHeader)
	r.Header.Set("Signature", sigHeader)
	return r
}

func doRequest(s *Server, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, r)
	return w
}

func jsonBody(s string) io.Reader { return strings.NewReader(s) }

// registerTestAgent seeds an agent profile directly in the store so a
// handler test can sign requests as that agent without going through
// POST /v1/agents/{did} first (which, per the first-registration quirk
// documented in DESIGN.md, requires the agent to already be registered).
func registerTestAgent(s *Server, did, inboxURL string, pub ed25519.PublicKey) {
	mb := publicKeyMultibase(pub)
	profile := models.DefaultAgentProfile(did, inboxURL)
	profile.PublicKeyMultibase = &mb
	if _, err := s.Registry.UpsertAgent(context.Background(), profile); err != nil {
		panic(err)
	}
}

// publicKeyMultibase re-derives the "z"+base58btc(0xed01||key) multikey
// wire form from a did:key identifier, since a registered agent's
// public_key_multibase field uses that same encoding without the
// "did:key:" wrapper.
func publicKeyMultibase(pub ed25519.PublicKey) string {
	return strings.TrimPrefix(identity.DID(pub), "did:key:")
}
