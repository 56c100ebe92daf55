package api

import (
	"net/http"

	"github.com/semanticweft/node/internal/api/apiutil"
	"github.com/semanticweft/node/internal/federation"
	"github.com/semanticweft/node/internal/identity"
)

// handleDiscovery serves the node's discovery document (spec §6). The
// capability list advertises every optional surface this node actually
// implements: sync is mandatory, the rest are all implemented here, unlike
// the node this protocol was distilled from, which never grew an SSE
// stream.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	doc := federation.DiscoveryDocument{
		NodeID:          s.NodeDID,
		Name:            s.Config.NodeName,
		ProtocolVersion: protocolVersion,
		APIBase:         s.Config.APIBase,
		Capabilities:    []string{"sync", "sse", "subgraph", "peers", "agents", "follows"},
		SigningRequired: true,
		Contact:         s.Config.Contact,
		PublicKey:       identity.DID(s.NodePublicKey),
	}
	apiutil.WriteJSON(w, http.StatusOK, doc)
}
