package federation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/semanticweft/node/internal/models"
	"github.com/semanticweft/node/internal/registry"
	"github.com/semanticweft/node/internal/store"
)

// reachabilityVerifiedNudge and reachabilityMismatchNudge are the reputation
// targets a newly-added peer is nudged toward after an async reachability
// check (spec §4.4). An unreachable peer is left untouched: transient
// network errors must never be penalised.
const (
	reachabilityVerifiedNudge = 0.55
	reachabilityMismatchNudge = 0.3
	reachabilityNudgeWeight   = 0.5
)

// peersResponse mirrors the wire shape of GET /v1/peers.
type peersResponse struct {
	Peers []models.PeerRecord `json:"peers"`
}

// Discovery implements startup bootstrap and on-add reachability checks
// against configured bootstrap peers (spec §4.4).
type Discovery struct {
	store    store.Storage
	registry *registry.Registry
	client   *SignedClient
	self     models.PeerRecord
	maxPeers int
	logger   *slog.Logger
}

// NewDiscovery returns a Discovery. self is this node's own peer record,
// announced to bootstrap peers. maxPeers <= 0 means unbounded.
func NewDiscovery(s store.Storage, reg *registry.Registry, client *SignedClient, self models.PeerRecord, maxPeers int, logger *slog.Logger) *Discovery {
	return &Discovery{store: s, registry: reg, client: client, self: self, maxPeers: maxPeers, logger: logger}
}

// Bootstrap announces this node to each configured bootstrap URL and pulls
// its peer list, verifying and adding each entry. Intended to run once, in a
// detached goroutine, at startup.
func (d *Discovery) Bootstrap(ctx context.Context, bootstrapURLs []string) {
	if len(bootstrapURLs) == 0 {
		d.logger.Info("peer discovery: no bootstrap peers configured, skipping sweep")
		return
	}
	for _, url := range bootstrapURLs {
		apiBase := strings.TrimRight(url, "/")
		d.logger.Info("peer discovery: bootstrapping", slog.String("peer", apiBase))
		d.announceSelf(ctx, apiBase)
		d.pullPeerList(ctx, apiBase)
	}
}

func (d *Discovery) announceSelf(ctx context.Context, apiBase string) {
	body, err := json.Marshal(d.self)
	if err != nil {
		d.logger.Warn("peer discovery: could not marshal self", slog.String("error", err.Error()))
		return
	}
	rawURL, err := joinURL(apiBase, "/v1/peers")
	if err != nil {
		d.logger.Warn("peer discovery: bad bootstrap url", slog.String("error", err.Error()))
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, outboundTimeout)
	defer cancel()
	resp, err := d.client.PostJSON(reqCtx, rawURL, body)
	if err != nil {
		d.logger.Warn("peer discovery: announce failed", slog.String("peer", apiBase), slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.logger.Warn("peer discovery: announce rejected", slog.String("peer", apiBase), slog.Int("status", resp.StatusCode))
		return
	}
	d.logger.Info("peer discovery: announced self", slog.String("peer", apiBase))
}

func (d *Discovery) pullPeerList(ctx context.Context, apiBase string) {
	rawURL, err := joinURL(apiBase, "/v1/peers")
	if err != nil {
		d.logger.Warn("peer discovery: bad bootstrap url", slog.String("error", err.Error()))
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, outboundTimeout)
	defer cancel()
	resp, err := d.client.Get(reqCtx, rawURL)
	if err != nil {
		d.logger.Warn("peer discovery: pull peer list failed", slog.String("peer", apiBase), slog.String("error", err.Error()))
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		d.logger.Warn("peer discovery: peer list rejected", slog.String("peer", apiBase), slog.Int("status", resp.StatusCode))
		return
	}
	body, err := readAndClose(resp)
	if err != nil {
		d.logger.Warn("peer discovery: could not read peer list", slog.String("error", err.Error()))
		return
	}
	var page peersResponse
	if err := json.Unmarshal(body, &page); err != nil {
		d.logger.Warn("peer discovery: invalid peer list", slog.String("peer", apiBase), slog.String("error", err.Error()))
		return
	}
	d.logger.Info("peer discovery: received peers", slog.String("from", apiBase), slog.Int("count", len(page.Peers)))
	for _, candidate := range page.Peers {
		if candidate.NodeID == d.self.NodeID {
			continue
		}
		d.TryAddPeer(ctx, candidate)
	}
}

type verifyOutcome int

const (
	verifyUnreachable verifyOutcome = iota
	verifyMatch
	verifyMismatch
)

// VerifyPeer fetches candidate's discovery document and reports whether its
// declared node_id matches.
func (d *Discovery) VerifyPeer(ctx context.Context, candidate models.PeerRecord) verifyOutcome {
	base := strings.TrimSuffix(strings.TrimRight(candidate.APIBase, "/"), "/v1")
	rawURL, err := joinURL(base, "/.well-known/semanticweft")
	if err != nil {
		return verifyUnreachable
	}
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := d.client.Get(reqCtx, rawURL)
	if err != nil {
		return verifyUnreachable
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return verifyUnreachable
	}
	body, err := readAndClose(resp)
	if err != nil {
		return verifyUnreachable
	}
	var doc DiscoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return verifyUnreachable
	}
	if doc.NodeID == candidate.NodeID {
		return verifyMatch
	}
	return verifyMismatch
}

// TryAddPeer verifies candidate, enforces the peer cap (evicting the
// current worst peer only if candidate is not itself worse), and stores it.
// On success it kicks off an async reachability-based reputation nudge.
func (d *Discovery) TryAddPeer(ctx context.Context, candidate models.PeerRecord) {
	switch d.VerifyPeer(ctx, candidate) {
	case verifyMismatch:
		d.logger.Warn("peer discovery: node_id mismatch, rejecting possible impersonation", slog.String("peer", candidate.APIBase))
		return
	case verifyUnreachable:
		d.logger.Warn("peer discovery: unreachable for verification, storing tentatively", slog.String("peer", candidate.APIBase))
	case verifyMatch:
	}

	if d.maxPeers > 0 {
		count, err := d.store.CountPeers(ctx)
		if err != nil {
			d.logger.Warn("peer discovery: could not count peers", slog.String("error", err.Error()))
			return
		}
		if count >= d.maxPeers {
			worst, found, err := d.peekWorstPeer(ctx)
			if err != nil {
				d.logger.Warn("peer discovery: could not inspect peer list", slog.String("error", err.Error()))
				return
			}
			if found && worst.Reputation > candidate.Reputation {
				// The new candidate is worse than the current worst entry;
				// drop it rather than displace anything.
				return
			}
			if _, _, err := d.store.EvictWorstPeer(ctx); err != nil {
				d.logger.Warn("peer discovery: eviction failed", slog.String("error", err.Error()))
				return
			}
		}
	}

	if _, err := d.store.UpsertPeer(ctx, candidate); err != nil {
		d.logger.Warn("peer discovery: could not store peer", slog.String("peer", candidate.NodeID), slog.String("error", err.Error()))
		return
	}
	d.logger.Info("peer discovery: added peer", slog.String("peer", candidate.NodeID))

	go d.VerifyAndNudgePeer(context.Background(), candidate)
}

// peekWorstPeer finds the lowest-reputation peer without evicting it, so
// TryAddPeer can decide whether the candidate deserves the slot.
func (d *Discovery) peekWorstPeer(ctx context.Context) (models.PeerRecord, bool, error) {
	peers, err := d.store.ListPeers(ctx)
	if err != nil {
		return models.PeerRecord{}, false, err
	}
	var worst models.PeerRecord
	found := false
	for _, p := range peers {
		if !found || p.Reputation < worst.Reputation {
			worst, found = p, true
			continue
		}
		if p.Reputation == worst.Reputation && olderLastContact(p, worst) {
			worst = p
		}
	}
	return worst, found, nil
}

func olderLastContact(a, b models.PeerRecord) bool {
	if a.LastContact == nil {
		return b.LastContact != nil || false
	}
	if b.LastContact == nil {
		return false
	}
	return a.LastContact.Before(*b.LastContact)
}

// VerifyAndNudgePeer fetches peer's discovery document and nudges its
// reputation per spec §4.4's reachability-on-add rule (spec §7.2 SHOULD): a
// confirmed node_id match nudges reputation up, a mismatch nudges it down,
// and an unreachable peer is left untouched since transient network errors
// must never be penalised. Intended to run in a detached goroutine so the
// caller (peer announcement or bootstrap pull) is never blocked on it.
func (d *Discovery) VerifyAndNudgePeer(ctx context.Context, peer models.PeerRecord) {
	current, err := d.store.GetPeer(ctx, peer.NodeID)
	if err != nil {
		return
	}
	switch d.VerifyPeer(ctx, peer) {
	case verifyMatch:
		d.nudgeReputation(ctx, current, reachabilityVerifiedNudge)
	case verifyMismatch:
		d.nudgeReputation(ctx, current, reachabilityMismatchNudge)
	case verifyUnreachable:
	}
}

func (d *Discovery) nudgeReputation(ctx context.Context, peer models.PeerRecord, target float64) {
	newRep := peer.Reputation*(1-reachabilityNudgeWeight) + target*reachabilityNudgeWeight
	if err := d.store.UpdatePeerReputation(ctx, peer.NodeID, newRep); err != nil {
		d.logger.Warn("peer discovery: could not nudge reputation", slog.String("peer", peer.NodeID), slog.String("error", err.Error()))
	}
}
