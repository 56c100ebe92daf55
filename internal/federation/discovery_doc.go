package federation

// ProofOfWorkRequirement describes an optional anti-spam challenge a node
// may advertise in its discovery document.
type ProofOfWorkRequirement struct {
	Algorithm  string `json:"algorithm"`
	Difficulty int    `json:"difficulty"`
}

// DiscoveryDocument is the body of GET /.well-known/semanticweft (spec §6).
type DiscoveryDocument struct {
	NodeID          string                   `json:"node_id"`
	Name            string                   `json:"name,omitempty"`
	ProtocolVersion string                   `json:"protocol_version"`
	APIBase         string                   `json:"api_base"`
	Capabilities    []string                 `json:"capabilities"`
	SigningRequired bool                     `json:"signing_required"`
	PowRequired     *ProofOfWorkRequirement  `json:"pow_required,omitempty"`
	Contact         string                   `json:"contact,omitempty"`
	PublicKey       string                   `json:"public_key,omitempty"`
}
