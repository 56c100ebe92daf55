// Package store defines the node's persistence contract and two
// implementations: an ephemeral in-memory backend and a durable
// PostgreSQL-backed one, selected at startup by whether a database DSN is
// configured (spec §9, "ephemeral vs persistent").
package store

import (
	"context"
	"errors"
	"time"

	"github.com/semanticweft/node/internal/models"
)

// ErrConflict is returned by PutUnit when the same id already exists with
// different canonical content.
var ErrConflict = errors.New("store: id exists with different content")

// ErrNotFound is returned by single-item lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// ListFilter narrows a ListUnits call. It is built exclusively by the
// handler layer from the caller's entitlement (internal/visibility); the
// store enforces no policy of its own.
type ListFilter struct {
	Kinds      []models.UnitType
	Author     string
	Since      time.Time
	After      string
	Limit      int
	Visibility []models.Visibility
}

// Page is one page of a listing.
type Page struct {
	Units   []models.Unit
	Cursor  string
	HasMore bool
}

// FollowPage is one page of a follow listing.
type FollowPage struct {
	DIDs    []string
	Cursor  string
	HasMore bool
}

// Storage is the full persistence contract consumed by the service layer.
// Every method takes a context; implementations must not block past its
// cancellation.
type Storage interface {
	// Units (spec §4.1).
	PutUnit(ctx context.Context, u models.Unit) (stored models.Unit, created bool, err error)
	GetUnit(ctx context.Context, id string) (models.Unit, error)
	ListUnits(ctx context.Context, filter ListFilter) (Page, error)
	Incoming(ctx context.Context, id string) ([]models.Unit, error)
	SetUnitCredibility(ctx context.Context, unitID string, credibility float64) error
	GetUnitCredibility(ctx context.Context, unitID string) (float64, bool, error)

	// Agent registry.
	UpsertAgent(ctx context.Context, profile models.AgentProfile) (models.AgentProfile, error)
	GetAgent(ctx context.Context, did string) (models.AgentProfile, error)
	DeleteAgent(ctx context.Context, did string) error
	ListAgents(ctx context.Context) ([]models.AgentProfile, error)
	UpdateAgentReputation(ctx context.Context, did string, newReputation float64) error

	// Follow graph.
	AddFollow(ctx context.Context, follower, followee string) error
	RemoveFollow(ctx context.Context, follower, followee string) error
	IsFollowing(ctx context.Context, follower, followee string) (bool, error)
	ListFollowing(ctx context.Context, did, after string, limit int) (FollowPage, error)
	ListFollowers(ctx context.Context, did, after string, limit int) (FollowPage, error)

	// Peer registry.
	UpsertPeer(ctx context.Context, peer models.PeerRecord) (models.PeerRecord, error)
	GetPeer(ctx context.Context, nodeID string) (models.PeerRecord, error)
	ListPeers(ctx context.Context) ([]models.PeerRecord, error)
	UpdatePeerReputation(ctx context.Context, nodeID string, newReputation float64) error
	TouchPeerLastContact(ctx context.Context, nodeID string, at time.Time) error
	CountPeers(ctx context.Context) (int, error)
	EvictWorstPeer(ctx context.Context) (models.PeerRecord, bool, error)

	// Inbox.
	DeliverToInbox(ctx context.Context, agentDID string, u models.Unit) (inserted bool, err error)
	ListInbox(ctx context.Context, agentDID, after string, limit int) (Page, error)

	// Federation sync cursors, keyed by peer API base URL.
	GetCursor(ctx context.Context, peerAPIBase string) (string, bool, error)
	SetCursor(ctx context.Context, peerAPIBase, cursor string) error

	// Node configuration, used to persist the Ed25519 identity seed.
	GetNodeConfig(ctx context.Context, key string) (string, bool, error)
	SetNodeConfig(ctx context.Context, key, value string) error

	Close() error
}

// ClampLimit applies the spec's [1, max] clamp with the given default.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
