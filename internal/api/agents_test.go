package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/semanticweft/node/internal/identity"
)

func TestHandleRegisterAgentRejectsBodyPathMismatch(t *testing.T) {
	s := newTestServer()
	pub, priv, did, err := identity.NewKeypair()
	if err != nil {
		t.Fatal(err)
	}
	registerTestAgent(s, did, "https://agent.example/inbox", pub)

	r := signedRequest(http.MethodPost, fmt.Sprintf("/v1/agents/%s", did), priv, did,
		jsonBody(`{"did":"did:key:zSomeoneElse","inbox_url":"https://x.example/inbox"}`))
	w := doRequest(s, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("body/path did mismatch: want 400, got %d: %s", w.Code, w.Body.String())
	}
}

// TestHandleRegisterAgentUnregisteredCallerCannotBootstrap documents the
// quirk recorded in DESIGN.md: RequireAuth has no bootstrap fallback, so an
// agent that has never registered a public key can never pass this
// endpoint's own auth check, even to register itself for the first time.
func TestHandleRegisterAgentUnregisteredCallerCannotBootstrap(t *testing.T) {
	s := newTestServer()
	_, priv, did, err := identity.NewKeypair()
	if err != nil {
		t.Fatal(err)
	}

	r := signedRequest(http.MethodPost, fmt.Sprintf("/v1/agents/%s", did), priv, did,
		jsonBody(fmt.Sprintf(`{"did":"%s","inbox_url":"https://x.example/inbox"}`, did)))
	w := doRequest(s, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("first-time registration without a prior registry entry: want 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleRegisterAgentUpdatesOwnProfile(t *testing.T) {
	s := newTestServer()
	pub, priv, did, err := identity.NewKeypair()
	if err != nil {
		t.Fatal(err)
	}
	registerTestAgent(s, did, "https://agent.example/inbox", pub)

	displayName := "Ada"
	r := signedRequest(http.MethodPost, fmt.Sprintf("/v1/agents/%s", did), priv, did,
		jsonBody(fmt.Sprintf(`{"did":"%s","inbox_url":"https://agent.example/inbox","display_name":%q}`, did, displayName)))
	w := doRequest(s, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("self-update: want 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleDeleteAgentRejectsOtherIdentity(t *testing.T) {
	s := newTestServer()
	pub, _, did, err := identity.NewKeypair()
	if err != nil {
		t.Fatal(err)
	}
	registerTestAgent(s, did, "https://agent.example/inbox", pub)

	otherPub, otherPriv, otherDID, err := identity.NewKeypair()
	if err != nil {
		t.Fatal(err)
	}
	registerTestAgent(s, otherDID, "https://other.example/inbox", otherPub)

	r := signedRequest(http.MethodDelete, fmt.Sprintf("/v1/agents/%s", did), otherPriv, otherDID, nil)
	w := doRequest(s, r)

	if w.Code != http.StatusForbidden {
		t.Fatalf("delete another did's profile: want 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleGetAgentUnknownNotFound(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/v1/agents/did:key:zghost", nil)
	w := doRequest(s, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown agent: want 404, got %d: %s", w.Code, w.Body.String())
	}
}
