package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/semanticweft/node/internal/eventbus"
	"github.com/semanticweft/node/internal/models"
	"github.com/semanticweft/node/internal/store"
)

// maxFanoutAttempts bounds the retry budget for one remote inbox delivery
// (spec §4.4: "0 < N < unbounded", implementation's choice).
const maxFanoutAttempts = 5

// fanoutRetryBackoff is the delay between delivery attempts.
const fanoutRetryBackoff = 2 * time.Second

// fanoutWorkers is the size of the bounded worker pool draining the
// publish/subscribe bus, mirroring the teacher's background-worker sizing.
const fanoutWorkers = 4

// Fanout delivers newly-stored network-visibility units to every follower
// of the author, in-process for local agents and by signed POST for remote
// ones (spec §4.4, "Push-fanout on submission").
type Fanout struct {
	store    store.Storage
	bus      eventbus.Bus
	client   *SignedClient
	selfHost string
	logger   *slog.Logger

	remote *deliveryPool
	wg     sync.WaitGroup
}

// NewFanout returns a Fanout. selfAPIBase is this node's own API base URL;
// a follower whose inbox URL shares its host is delivered in-process.
func NewFanout(s store.Storage, bus eventbus.Bus, client *SignedClient, selfAPIBase string, logger *slog.Logger) *Fanout {
	host := ""
	if u, err := url.Parse(selfAPIBase); err == nil {
		host = u.Host
	}
	return &Fanout{
		store:    s,
		bus:      bus,
		client:   client,
		selfHost: host,
		logger:   logger,
		remote:   newDeliveryPool(remoteDeliveryWorkers),
	}
}

// Run subscribes to the unit-stored event and drains it with a bounded
// worker pool until ctx is cancelled. Call in a detached goroutine.
func (f *Fanout) Run(ctx context.Context) {
	ch, unsubscribe, err := f.bus.Subscribe(ctx)
	if err != nil {
		f.logger.Error("fanout: could not subscribe to unit-stored events", slog.String("error", err.Error()))
		return
	}
	defer unsubscribe()

	jobs := make(chan models.Unit, 256)
	defer close(jobs)

	for i := 0; i < fanoutWorkers; i++ {
		f.wg.Add(1)
		go f.worker(ctx, jobs)
	}

	for {
		select {
		case <-ctx.Done():
			f.wg.Wait()
			return
		case u, ok := <-ch:
			if !ok {
				f.wg.Wait()
				return
			}
			select {
			case jobs <- u:
			case <-ctx.Done():
				f.wg.Wait()
				return
			}
		}
	}
}

func (f *Fanout) worker(ctx context.Context, jobs <-chan models.Unit) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-jobs:
			if !ok {
				return
			}
			f.Deliver(ctx, u)
		}
	}
}

// Deliver fans u out to every follower of its author that this node knows
// about. Only network-visibility units are fanned out; Run's workers hand
// every unit from the bus to Deliver, so this check is what drops the rest.
func (f *Fanout) Deliver(ctx context.Context, u models.Unit) {
	if u.EffectiveVisibility() != models.VisibilityNetwork {
		return
	}

	var followers []string
	cursor := ""
	for {
		page, err := f.store.ListFollowers(ctx, u.Author, cursor, 200)
		if err != nil {
			f.logger.Warn("fanout: could not list followers", slog.String("author", u.Author), slog.String("error", err.Error()))
			return
		}
		followers = append(followers, page.DIDs...)
		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}

	for _, followerDID := range followers {
		agent, err := f.store.GetAgent(ctx, followerDID)
		if err != nil {
			if err != store.ErrNotFound {
				f.logger.Warn("fanout: could not look up follower", slog.String("agent", followerDID), slog.String("error", err.Error()))
			}
			continue
		}
		if f.isLocalAgent(agent) {
			if _, err := f.store.DeliverToInbox(ctx, agent.DID, u); err != nil {
				f.logger.Warn("fanout: local inbox delivery failed", slog.String("agent", agent.DID), slog.String("error", err.Error()))
			}
			continue
		}
		f.remote.submit(func() { f.deliverRemote(context.Background(), agent, u) })
	}
}

// isLocalAgent reports whether agent's inbox URL shares this node's own
// host — i.e. the agent is registered on this node rather than a peer
// (spec §4.4: "Followers whose inbox URL points at a different host are
// delivered by POST").
func (f *Fanout) isLocalAgent(agent models.AgentProfile) bool {
	u, err := url.Parse(agent.InboxURL)
	if err != nil {
		return false
	}
	return u.Host == "" || u.Host == f.selfHost
}

func (f *Fanout) deliverRemote(ctx context.Context, agent models.AgentProfile, u models.Unit) {
	body, err := json.Marshal(u)
	if err != nil {
		f.logger.Error("fanout: could not marshal unit", slog.String("unit_id", u.ID), slog.String("error", err.Error()))
		return
	}

	for attempt := 1; attempt <= maxFanoutAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, outboundTimeout)
		resp, err := f.client.PostJSON(reqCtx, agent.InboxURL, body)
		cancel()
		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return
			}
			err = fmt.Errorf("remote inbox returned status %d", resp.StatusCode)
		}
		f.logger.Warn("fanout: remote delivery attempt failed",
			slog.String("agent", agent.DID),
			slog.String("unit_id", u.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt < maxFanoutAttempts {
			select {
			case <-time.After(fanoutRetryBackoff):
			case <-ctx.Done():
				return
			}
		}
	}
	f.logger.Error("fanout: giving up on remote delivery",
		slog.String("agent", agent.DID), slog.String("unit_id", u.ID), slog.Int("attempts", maxFanoutAttempts))
}
