package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/semanticweft/node/internal/apperr"
	"github.com/semanticweft/node/internal/api/apiutil"
)

// webfingerLink is one entry of a JRD's links array (RFC 7033 §4.4).
type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

// webfingerResponse is a minimal JSON Resource Descriptor (RFC 7033 §4.4).
type webfingerResponse struct {
	Subject string          `json:"subject"`
	Links   []webfingerLink `json:"links"`
}

// handleWebFinger implements GET /.well-known/webfinger?resource=acct:{did}@{host},
// recovered from the original protocol's webfinger handler (the distilled
// spec names the route but not its body). The "acct:" scheme prefix is
// optional on input; the did segment is found by splitting on the last '@'
// so a did containing no '@' of its own is never mis-split.
func (s *Server) handleWebFinger(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	if resource == "" {
		apiutil.WriteAppError(w, s.Logger, apperr.InvalidParameterf("resource query parameter is required"))
		return
	}
	address := strings.TrimPrefix(resource, "acct:")

	idx := strings.LastIndex(address, "@")
	if idx < 0 {
		apiutil.WriteAppError(w, s.Logger, apperr.InvalidParameterf("resource must be of the form acct:{did}@{host}"))
		return
	}
	did := address[:idx]
	if !strings.HasPrefix(did, "did:") {
		apiutil.WriteAppError(w, s.Logger, apperr.InvalidParameterf("resource's identifier segment must be a did"))
		return
	}

	if _, err := s.Store.GetAgent(r.Context(), did); err != nil {
		apiutil.WriteAppError(w, s.Logger, apperr.NotFoundf("agent not registered on this node"))
		return
	}

	profileHref := fmt.Sprintf("%s/agents/%s", strings.TrimRight(s.Config.APIBase, "/")+"/v1", url.PathEscape(did))
	body := webfingerResponse{
		Subject: "acct:" + address,
		Links: []webfingerLink{
			{Rel: "self", Type: "application/json", Href: profileHref},
		},
	}

	w.Header().Set("Content-Type", "application/jrd+json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	apiutil.EncodeJSON(w, body)
}
