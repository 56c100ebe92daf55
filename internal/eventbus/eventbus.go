// Package eventbus is the internal publish/subscribe fabric that drives
// push-fanout dispatch and the SSE sync stream off the same unit-stored
// signal. It is backed by NATS when a server URL is configured, following
// the teacher's event-bus design, and falls back to an in-process fan-out
// bus otherwise so a single-process node needs no external dependency.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/semanticweft/node/internal/models"
)

// SubjectUnitStored is the subject published to whenever a unit is newly
// stored (not on idempotent resubmission).
const SubjectUnitStored = "semanticweft.unit.stored"

// Bus is the publish/subscribe contract consumed by the federation fanout
// worker pool and the SSE sync handler.
type Bus interface {
	PublishUnitStored(ctx context.Context, u models.Unit) error
	// Subscribe returns a channel of newly stored units and an unsubscribe
	// function the caller must invoke when done.
	Subscribe(ctx context.Context) (<-chan models.Unit, func(), error)
	Close() error
}

// NATSBus implements Bus over a NATS connection.
type NATSBus struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSBus connects to the NATS server at url.
func NewNATSBus(url string, logger *slog.Logger) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name("semanticweft-node"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect to nats at %s: %w", url, err)
	}
	logger.Info("nats connection established", slog.String("url", nc.ConnectedUrl()))
	return &NATSBus{conn: nc, logger: logger}, nil
}

func (b *NATSBus) PublishUnitStored(_ context.Context, u models.Unit) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("eventbus: marshal unit: %w", err)
	}
	if err := b.conn.Publish(SubjectUnitStored, data); err != nil {
		return fmt.Errorf("eventbus: publish: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context) (<-chan models.Unit, func(), error) {
	out := make(chan models.Unit, 64)
	sub, err := b.conn.Subscribe(SubjectUnitStored, func(msg *nats.Msg) {
		var u models.Unit
		if err := json.Unmarshal(msg.Data, &u); err != nil {
			b.logger.Warn("eventbus: dropping malformed message", slog.String("error", err.Error()))
			return
		}
		select {
		case out <- u:
		case <-ctx.Done():
		default:
			b.logger.Warn("eventbus: subscriber channel full, dropping unit", slog.String("unit_id", u.ID))
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("eventbus: subscribe: %w", err)
	}
	unsubscribe := func() {
		_ = sub.Unsubscribe()
		close(out)
	}
	return out, unsubscribe, nil
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

// LocalBus is an in-process Bus for nodes run without a NATS server.
type LocalBus struct {
	mu   sync.Mutex
	subs map[int]chan models.Unit
	next int
}

// NewLocalBus returns an in-process fan-out bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]chan models.Unit)}
}

func (b *LocalBus) PublishUnitStored(_ context.Context, u models.Unit) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context) (<-chan models.Unit, func(), error) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan models.Unit, 64)
	b.subs[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsubscribe, nil
}

func (b *LocalBus) Close() error { return nil }

var _ Bus = (*NATSBus)(nil)
var _ Bus = (*LocalBus)(nil)
