package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/semanticweft/node/internal/identity"
)

func TestHandleGetInboxUnknownAgentNotFound(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/v1/agents/did:key:zghost/inbox", nil)
	w := doRequest(s, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown agent: want 404, got %d: %s", w.Code, w.Body.String())
	}
}

// TestHandleGetInboxLeaksNoExistenceSignalToOutsiders exercises spec §7's
// existence-leak rule: an authenticated caller reading a different agent's
// inbox must see the same "not found" response as a request for an agent
// that was never registered, not a distinguishing "forbidden".
func TestHandleGetInboxLeaksNoExistenceSignalToOutsiders(t *testing.T) {
	s := newTestServer()
	ownerPub, _, ownerDID, err := identity.NewKeypair()
	if err != nil {
		t.Fatal(err)
	}
	registerTestAgent(s, ownerDID, "https://owner.example/inbox", ownerPub)

	outsiderPub, outsiderPriv, outsiderDID, err := identity.NewKeypair()
	if err != nil {
		t.Fatal(err)
	}
	registerTestAgent(s, outsiderDID, "https://outsider.example/inbox", outsiderPub)

	r := signedRequest(http.MethodGet, fmt.Sprintf("/v1/agents/%s/inbox", ownerDID), outsiderPriv, outsiderDID, nil)
	w := doRequest(s, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("outsider reading another agent's inbox: want 404 (not 403), got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleGetInboxOwnerSucceeds(t *testing.T) {
	s := newTestServer()
	pub, priv, did, err := identity.NewKeypair()
	if err != nil {
		t.Fatal(err)
	}
	registerTestAgent(s, did, "https://agent.example/inbox", pub)

	r := signedRequest(http.MethodGet, fmt.Sprintf("/v1/agents/%s/inbox", did), priv, did, nil)
	w := doRequest(s, r)

	if w.Code != http.StatusOK {
		t.Fatalf("owner reading own inbox: want 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleDeliverInboxRequiresNodeAuth(t *testing.T) {
	s := newTestServer()
	pub, _, did, err := identity.NewKeypair()
	if err != nil {
		t.Fatal(err)
	}
	registerTestAgent(s, did, "https://agent.example/inbox", pub)

	r := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/v1/agents/%s/inbox", did), jsonBody(`{}`))
	w := doRequest(s, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned delivery: want 401, got %d: %s", w.Code, w.Body.String())
	}
}
