// Package models defines the wire and storage types of the SemanticWeft
// data model: semantic units, agent profiles, peer records, and the
// supporting edge types that bind them together.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// UnitType is the kind of a semantic unit.
type UnitType string

const (
	UnitAssertion UnitType = "assertion"
	UnitQuestion  UnitType = "question"
	UnitInference UnitType = "inference"
	UnitChallenge UnitType = "challenge"
	UnitConstraint UnitType = "constraint"
)

func (t UnitType) Valid() bool {
	switch t {
	case UnitAssertion, UnitQuestion, UnitInference, UnitChallenge, UnitConstraint:
		return true
	}
	return false
}

// RelType is the kind of a typed reference between two units.
type RelType string

const (
	RelSupports    RelType = "supports"
	RelRebuts      RelType = "rebuts"
	RelDerivesFrom RelType = "derives-from"
	RelQuestions   RelType = "questions"
	RelRefines     RelType = "refines"
)

func (r RelType) Valid() bool {
	switch r {
	case RelSupports, RelRebuts, RelDerivesFrom, RelQuestions, RelRefines:
		return true
	}
	return false
}

// Visibility gates who may read a unit.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityNetwork Visibility = "network"
	VisibilityLimited Visibility = "limited"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityNetwork, VisibilityLimited:
		return true
	}
	return false
}

// Reference is a typed pointer from one unit to another.
type Reference struct {
	ID  string  `json:"id"`
	Rel RelType `json:"rel"`
}

// Source is a unit's provenance: either a bare URI, or a labelled citation
// with an optional URI. It round-trips through JSON as an untagged union,
// mirroring the original protocol's Source enum.
type Source struct {
	URI   string `json:"-"`
	Label string `json:"-"`
	HasURI bool  `json:"-"`
}

// IsBareURI reports whether this Source was encoded as a bare URI string
// rather than a labelled object.
func (s Source) IsBareURI() bool { return s.Label == "" }

func (s Source) MarshalJSON() ([]byte, error) {
	if s.Label == "" {
		return json.Marshal(s.URI)
	}
	obj := struct {
		Label string  `json:"label"`
		URI   *string `json:"uri,omitempty"`
	}{Label: s.Label}
	if s.HasURI {
		obj.URI = &s.URI
	}
	return json.Marshal(obj)
}

func (s *Source) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		*s = Source{URI: bare}
		return nil
	}
	var obj struct {
		Label string  `json:"label"`
		URI   *string `json:"uri,omitempty"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("source must be a string or a {label, uri?} object: %w", err)
	}
	if obj.Label == "" {
		return fmt.Errorf("labelled source requires a non-empty label")
	}
	src := Source{Label: obj.Label}
	if obj.URI != nil {
		src.URI = *obj.URI
		src.HasURI = true
	}
	*s = src
	return nil
}

// Proof is an optional Ed25519 signature over a unit's canonical form.
type Proof struct {
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"created_at"`
	Value     string    `json:"value"`
}

// Unit is an immutable, authored semantic unit (spec §3).
type Unit struct {
	ID          string          `json:"id"`
	Type        UnitType        `json:"type"`
	Content     string          `json:"content"`
	CreatedAt   time.Time       `json:"created_at"`
	Author      string          `json:"author"`
	Confidence  *float64        `json:"confidence,omitempty"`
	Assumptions []string        `json:"assumptions,omitempty"`
	Source      *Source         `json:"source,omitempty"`
	References  []Reference     `json:"references,omitempty"`
	Visibility  Visibility      `json:"visibility,omitempty"`
	Audience    []string        `json:"audience,omitempty"`
	Proof       *Proof          `json:"proof,omitempty"`
	Extensions  map[string]any  `json:"-"`
}

// EffectiveVisibility returns the unit's visibility, defaulting to public.
func (u *Unit) EffectiveVisibility() Visibility {
	if u.Visibility == "" {
		return VisibilityPublic
	}
	return u.Visibility
}

// AgentStatus is the membership standing of an agent profile.
type AgentStatus string

const (
	AgentStatusFull         AgentStatus = "full"
	AgentStatusProbationary AgentStatus = "probationary"
)

// AgentProfile is a registered author identity (spec §3).
type AgentProfile struct {
	DID               string      `json:"did"`
	InboxURL          string      `json:"inbox_url"`
	DisplayName       *string     `json:"display_name,omitempty"`
	PublicKeyMultibase *string    `json:"public_key_multibase,omitempty"`
	Status            AgentStatus `json:"status"`
	ContributionCount int         `json:"contribution_count"`
	Reputation        float64     `json:"reputation"`
}

// DefaultAgentProfile returns a freshly-upserted profile with spec defaults.
func DefaultAgentProfile(did, inboxURL string) AgentProfile {
	return AgentProfile{
		DID:      did,
		InboxURL: inboxURL,
		Status:   AgentStatusFull,
		Reputation: 0.5,
	}
}

// PeerRecord is a federated peer node (spec §3).
type PeerRecord struct {
	NodeID     string     `json:"node_id"`
	APIBase    string     `json:"api_base"`
	Reputation float64    `json:"reputation"`
	LastContact *time.Time `json:"last_contact,omitempty"`
}

// DefaultPeerRecord returns a freshly-upserted peer with spec defaults.
func DefaultPeerRecord(nodeID, apiBase string) PeerRecord {
	return PeerRecord{NodeID: nodeID, APIBase: apiBase, Reputation: 0.5}
}
