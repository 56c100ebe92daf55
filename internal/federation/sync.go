package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/semanticweft/node/internal/models"
	"github.com/semanticweft/node/internal/registry"
	"github.com/semanticweft/node/internal/store"
)

// DefaultSyncLimit is the page size requested on every pull (spec §4.4).
const DefaultSyncLimit = 500

// DefaultSyncInterval is the background drain cadence when unconfigured.
const DefaultSyncInterval = 60 * time.Second

// syncPage mirrors the wire shape of GET /v1/sync: the units listing plus
// the author-reputation map a puller needs to score credibility.
type syncPage struct {
	Units             []models.Unit      `json:"units"`
	Cursor            string             `json:"cursor,omitempty"`
	HasMore           bool               `json:"has_more"`
	AuthorReputations map[string]float64 `json:"author_reputations,omitempty"`
}

// Puller drains peers' sync streams into the local store (spec §4.4).
type Puller struct {
	store    store.Storage
	registry *registry.Registry
	client   *SignedClient
	logger   *slog.Logger
}

// NewPuller returns a Puller.
func NewPuller(s store.Storage, reg *registry.Registry, client *SignedClient, logger *slog.Logger) *Puller {
	return &Puller{store: s, registry: reg, client: client, logger: logger}
}

// Run enumerates known peers and drains each at the given interval until ctx
// is cancelled. Individual peer failures never shorten the interval or abort
// the loop (spec §4.4, "Background loop").
func (p *Puller) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce drains every known peer exactly once.
func (p *Puller) RunOnce(ctx context.Context) {
	peers, err := p.store.ListPeers(ctx)
	if err != nil {
		p.logger.Warn("sync: could not list peers", slog.String("error", err.Error()))
		return
	}
	for _, peer := range peers {
		if err := p.SyncPeer(ctx, peer); err != nil {
			p.logger.Warn("sync: peer drain failed", slog.String("peer", peer.APIBase), slog.String("error", err.Error()))
		}
	}
}

// SyncPeer drains peer until its sync stream reports has_more=false,
// advancing the persisted cursor as it goes.
func (p *Puller) SyncPeer(ctx context.Context, peer models.PeerRecord) error {
	for {
		hasMore, err := p.syncPeerOnce(ctx, peer)
		if err != nil {
			return err
		}
		if !hasMore {
			return nil
		}
	}
}

// syncPeerOnce issues one GET /sync call and ingests its page, returning
// whether the peer reports more pages remain.
func (p *Puller) syncPeerOnce(ctx context.Context, peer models.PeerRecord) (bool, error) {
	cursor, _, err := p.store.GetCursor(ctx, peer.APIBase)
	if err != nil {
		return false, fmt.Errorf("federation: read cursor: %w", err)
	}

	rawURL, err := joinURL(peer.APIBase, syncPath(cursor))
	if err != nil {
		return false, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, outboundTimeout)
	defer cancel()

	resp, err := p.client.Get(reqCtx, rawURL)
	if err != nil {
		return false, fmt.Errorf("federation: fetch %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return false, fmt.Errorf("federation: peer %s returned status %d", peer.APIBase, resp.StatusCode)
	}
	body, err := readAndClose(resp)
	if err != nil {
		return false, fmt.Errorf("federation: read body: %w", err)
	}

	var page syncPage
	if err := json.Unmarshal(body, &page); err != nil {
		return false, fmt.Errorf("federation: decode sync page: %w", err)
	}

	peerReputation := p.registry.PeerReputationOrDefault(ctx, peer.NodeID)
	for _, u := range page.Units {
		_, created, err := p.store.PutUnit(ctx, u)
		if err != nil {
			if err == store.ErrConflict {
				continue
			}
			p.logger.Warn("sync: could not store unit", slog.String("unit_id", u.ID), slog.String("error", err.Error()))
			continue
		}
		if !created {
			continue
		}
		authorReputation := 0.5
		if r, ok := page.AuthorReputations[u.Author]; ok {
			authorReputation = r
		}
		credibility := peerReputation * authorReputation
		if err := p.store.SetUnitCredibility(ctx, u.ID, credibility); err != nil {
			p.logger.Warn("sync: could not persist credibility", slog.String("unit_id", u.ID), slog.String("error", err.Error()))
		}
	}

	if page.Cursor != "" {
		if err := p.store.SetCursor(ctx, peer.APIBase, page.Cursor); err != nil {
			p.logger.Warn("sync: could not advance cursor", slog.String("peer", peer.APIBase), slog.String("error", err.Error()))
		}
	}
	return page.HasMore, nil
}

func syncPath(cursor string) string {
	path := fmt.Sprintf("/v1/sync?limit=%d", DefaultSyncLimit)
	if cursor != "" {
		path += "&after=" + cursor
	}
	return path
}
