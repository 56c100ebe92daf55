// Package memory implements an ephemeral, in-process store.Storage backend
// used when no database DSN is configured. It mirrors the node's reference
// in-memory design: one read/write lock guarding every collection, sorted-by-id
// storage (UUIDv7 ids sort lexicographically in creation order), and a
// denormalised inbound-reference index kept alongside the units themselves.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/semanticweft/node/internal/models"
	"github.com/semanticweft/node/internal/store"
)

type inboxCollection struct {
	ids   []string
	units map[string]models.Unit
}

// Store is an in-memory implementation of store.Storage.
type Store struct {
	mu sync.RWMutex

	unitIDs       []string
	units         map[string]models.Unit
	incoming      map[string]map[string]struct{} // target id -> set of referencing ids
	credibility   map[string]float64

	agents map[string]models.AgentProfile

	follows map[[2]string]struct{}

	peers map[string]models.PeerRecord

	inbox map[string]*inboxCollection

	cursors map[string]string

	nodeConfig map[string]string
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		units:       make(map[string]models.Unit),
		incoming:    make(map[string]map[string]struct{}),
		credibility: make(map[string]float64),
		agents:      make(map[string]models.AgentProfile),
		follows:     make(map[[2]string]struct{}),
		peers:       make(map[string]models.PeerRecord),
		inbox:       make(map[string]*inboxCollection),
		cursors:     make(map[string]string),
		nodeConfig:  make(map[string]string),
	}
}

func (s *Store) Close() error { return nil }

func canonicalEqual(a, b models.Unit) (bool, error) {
	da, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	db, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return string(da) == string(db), nil
}

func insertSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

// PutUnit implements store.Storage.
func (s *Store) PutUnit(_ context.Context, u models.Unit) (models.Unit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.units[u.ID]; ok {
		eq, err := canonicalEqual(existing, u)
		if err != nil {
			return models.Unit{}, false, err
		}
		if eq {
			return existing, false, nil
		}
		return models.Unit{}, false, store.ErrConflict
	}

	s.units[u.ID] = u
	s.unitIDs = insertSorted(s.unitIDs, u.ID)
	for _, ref := range u.References {
		set, ok := s.incoming[ref.ID]
		if !ok {
			set = make(map[string]struct{})
			s.incoming[ref.ID] = set
		}
		set[u.ID] = struct{}{}
	}
	return u, true, nil
}

// GetUnit implements store.Storage.
func (s *Store) GetUnit(_ context.Context, id string) (models.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok {
		return models.Unit{}, store.ErrNotFound
	}
	return u, nil
}

func matchesFilter(u models.Unit, f store.ListFilter) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if u.Type == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Author != "" && u.Author != f.Author {
		return false
	}
	if !f.Since.IsZero() && u.CreatedAt.Before(f.Since) {
		return false
	}
	if len(f.Visibility) > 0 {
		found := false
		for _, v := range f.Visibility {
			if u.EffectiveVisibility() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ListUnits implements store.Storage.
func (s *Store) ListUnits(_ context.Context, f store.ListFilter) (store.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := store.ClampLimit(f.Limit, 50, 500)

	start := 0
	if f.After != "" {
		start = sort.SearchStrings(s.unitIDs, f.After)
		if start < len(s.unitIDs) && s.unitIDs[start] == f.After {
			start++
		}
	}

	var page []models.Unit
	hasMore := false
	for i := start; i < len(s.unitIDs); i++ {
		u := s.units[s.unitIDs[i]]
		if !matchesFilter(u, f) {
			continue
		}
		if len(page) == limit {
			hasMore = true
			break
		}
		page = append(page, u)
	}

	result := store.Page{Units: page, HasMore: hasMore}
	if len(page) > 0 {
		result.Cursor = page[len(page)-1].ID
	}
	return result, nil
}

// Incoming implements store.Storage.
func (s *Store) Incoming(_ context.Context, id string) ([]models.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.incoming[id]
	if !ok {
		return nil, nil
	}
	out := make([]models.Unit, 0, len(set))
	for refID := range set {
		if u, ok := s.units[refID]; ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetUnitCredibility(_ context.Context, unitID string, credibility float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credibility[unitID] = credibility
	return nil
}

func (s *Store) GetUnitCredibility(_ context.Context, unitID string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credibility[unitID]
	return c, ok, nil
}

// UpsertAgent implements store.Storage. Preserves reputation and
// contribution count of an existing profile.
func (s *Store) UpsertAgent(_ context.Context, profile models.AgentProfile) (models.AgentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.agents[profile.DID]; ok {
		profile.Reputation = existing.Reputation
		profile.ContributionCount = existing.ContributionCount
	}
	s.agents[profile.DID] = profile
	return profile, nil
}

func (s *Store) GetAgent(_ context.Context, did string) (models.AgentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[did]
	if !ok {
		return models.AgentProfile{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) DeleteAgent(_ context.Context, did string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, did)
	return nil
}

func (s *Store) ListAgents(_ context.Context) ([]models.AgentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AgentProfile, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DID < out[j].DID })
	return out, nil
}

func (s *Store) UpdateAgentReputation(_ context.Context, did string, newReputation float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[did]
	if !ok {
		return store.ErrNotFound
	}
	a.Reputation = newReputation
	s.agents[did] = a
	return nil
}

func followKey(follower, followee string) [2]string { return [2]string{follower, followee} }

func (s *Store) AddFollow(_ context.Context, follower, followee string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.follows[followKey(follower, followee)] = struct{}{}
	return nil
}

func (s *Store) RemoveFollow(_ context.Context, follower, followee string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.follows, followKey(follower, followee))
	return nil
}

func (s *Store) IsFollowing(_ context.Context, follower, followee string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.follows[followKey(follower, followee)]
	return ok, nil
}

func paginateStrings(all []string, after string, limit int) store.FollowPage {
	sort.Strings(all)
	start := 0
	if after != "" {
		start = sort.SearchStrings(all, after)
		if start < len(all) && all[start] == after {
			start++
		}
	}
	var page []string
	hasMore := false
	for i := start; i < len(all); i++ {
		if len(page) == limit {
			hasMore = true
			break
		}
		page = append(page, all[i])
	}
	fp := store.FollowPage{DIDs: page, HasMore: hasMore}
	if len(page) > 0 {
		fp.Cursor = page[len(page)-1]
	}
	return fp
}

func (s *Store) ListFollowing(_ context.Context, did, after string, limit int) (store.FollowPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = store.ClampLimit(limit, 50, 500)
	var out []string
	for k := range s.follows {
		if k[0] == did {
			out = append(out, k[1])
		}
	}
	return paginateStrings(out, after, limit), nil
}

func (s *Store) ListFollowers(_ context.Context, did, after string, limit int) (store.FollowPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = store.ClampLimit(limit, 50, 500)
	var out []string
	for k := range s.follows {
		if k[1] == did {
			out = append(out, k[0])
		}
	}
	return paginateStrings(out, after, limit), nil
}

// UpsertPeer implements store.Storage. Preserves reputation of an existing
// peer record (spec §6, "the upsert MUST preserve existing reputation").
func (s *Store) UpsertPeer(_ context.Context, peer models.PeerRecord) (models.PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.peers[peer.NodeID]; ok {
		peer.Reputation = existing.Reputation
		if peer.LastContact == nil {
			peer.LastContact = existing.LastContact
		}
	}
	s.peers[peer.NodeID] = peer
	return peer, nil
}

func (s *Store) GetPeer(_ context.Context, nodeID string) (models.PeerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[nodeID]
	if !ok {
		return models.PeerRecord{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListPeers(_ context.Context) ([]models.PeerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PeerRecord, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

func (s *Store) UpdatePeerReputation(_ context.Context, nodeID string, newReputation float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[nodeID]
	if !ok {
		return store.ErrNotFound
	}
	p.Reputation = newReputation
	s.peers[nodeID] = p
	return nil
}

func (s *Store) TouchPeerLastContact(_ context.Context, nodeID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[nodeID]
	if !ok {
		return store.ErrNotFound
	}
	t := at
	p.LastContact = &t
	s.peers[nodeID] = p
	return nil
}

func (s *Store) CountPeers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers), nil
}

// EvictWorstPeer removes and returns the peer with the lowest reputation,
// ties broken by oldest last-contact (spec §4.4 peer-cap eviction rule).
func (s *Store) EvictWorstPeer(_ context.Context) (models.PeerRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var worst models.PeerRecord
	found := false
	for _, p := range s.peers {
		if !found {
			worst, found = p, true
			continue
		}
		if p.Reputation < worst.Reputation {
			worst = p
			continue
		}
		if p.Reputation == worst.Reputation && olderLastContact(p, worst) {
			worst = p
		}
	}
	if !found {
		return models.PeerRecord{}, false, nil
	}
	delete(s.peers, worst.NodeID)
	return worst, true, nil
}

func olderLastContact(a, b models.PeerRecord) bool {
	if a.LastContact == nil {
		return true
	}
	if b.LastContact == nil {
		return false
	}
	return a.LastContact.Before(*b.LastContact)
}

func (s *Store) DeliverToInbox(_ context.Context, agentDID string, u models.Unit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.inbox[agentDID]
	if !ok {
		coll = &inboxCollection{units: make(map[string]models.Unit)}
		s.inbox[agentDID] = coll
	}
	if _, exists := coll.units[u.ID]; exists {
		return false, nil
	}
	coll.units[u.ID] = u
	coll.ids = insertSorted(coll.ids, u.ID)
	return true, nil
}

func (s *Store) ListInbox(_ context.Context, agentDID, after string, limit int) (store.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = store.ClampLimit(limit, 50, 100)
	coll, ok := s.inbox[agentDID]
	if !ok {
		return store.Page{}, nil
	}
	start := 0
	if after != "" {
		start = sort.SearchStrings(coll.ids, after)
		if start < len(coll.ids) && coll.ids[start] == after {
			start++
		}
	}
	var page []models.Unit
	hasMore := false
	for i := start; i < len(coll.ids); i++ {
		if len(page) == limit {
			hasMore = true
			break
		}
		page = append(page, coll.units[coll.ids[i]])
	}
	result := store.Page{Units: page, HasMore: hasMore}
	if len(page) > 0 {
		result.Cursor = page[len(page)-1].ID
	}
	return result, nil
}

func (s *Store) GetCursor(_ context.Context, peerAPIBase string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[peerAPIBase]
	return c, ok, nil
}

func (s *Store) SetCursor(_ context.Context, peerAPIBase, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[peerAPIBase] = cursor
	return nil
}

func (s *Store) GetNodeConfig(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.nodeConfig[key]
	return v, ok, nil
}

func (s *Store) SetNodeConfig(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeConfig[key] = value
	return nil
}

var _ store.Storage = (*Store)(nil)
