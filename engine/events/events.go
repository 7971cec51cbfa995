// Package events fans view invalidations out to every API replica over NATS.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/view"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/metrics"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/natsutil"
)

// InvalidateSubject carries view.Invalidation signals between replicas.
const InvalidateSubject = "bank.views.invalidate"

// Message is the wire form of an invalidation.
type Message struct {
	Origin string `json:"origin"`
	view.Invalidation
}

// Broadcaster applies invalidations locally and publishes them; signals
// received from other replicas are applied to the local cache only.
type Broadcaster struct {
	nc     *nats.Conn
	local  view.Invalidator
	origin string
	log    *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription

	published, received, dropped *metrics.Counter
}

func New(nc *nats.Conn, local view.Invalidator, log *slog.Logger, reg *metrics.Registry) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	msgs := reg.CounterVec("view_invalidations_bus_total", "Invalidation messages on the bus", "direction")
	return &Broadcaster{
		nc:        nc,
		local:     local,
		origin:    uuid.NewString(),
		log:       log,
		published: msgs.With("published"),
		received:  msgs.With("received"),
		dropped:   msgs.With("dropped"),
	}
}

// Origin identifies this replica on the bus.
func (b *Broadcaster) Origin() string { return b.origin }

// Start subscribes to InvalidateSubject. Every replica needs every signal, so
// there is no queue group.
func (b *Broadcaster) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return nil
	}
	sub, err := natsutil.Subscribe(b.nc, InvalidateSubject, "", b.handle, func(msg *nats.Msg, err error) {
		b.dropped.Inc()
		b.log.Warn("invalidation message dropped", "subject", msg.Subject, "error", err)
	})
	if err != nil {
		return err
	}
	b.sub = sub
	return nil
}

func (b *Broadcaster) handle(_ context.Context, m Message, _ *nats.Msg) error {
	if m.Origin == b.origin {
		return nil
	}
	b.received.Inc()
	if b.local != nil {
		b.local.Invalidate(m.Invalidation)
	}
	return nil
}

// Invalidate applies inv to the local cache and publishes it. A publish
// failure is logged; the local cache is already correct. A Broadcaster with
// no local cache only publishes.
func (b *Broadcaster) Invalidate(inv view.Invalidation) {
	if b.local != nil {
		b.local.Invalidate(inv)
	}
	if err := natsutil.Publish(context.Background(), b.nc, InvalidateSubject, Message{Origin: b.origin, Invalidation: inv}); err != nil {
		b.log.Warn("publish invalidation failed", "bank", inv.BankID, "error", err)
		return
	}
	b.published.Inc()
}

// Close drains the subscription.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Unsubscribe()
	b.sub = nil
	return err
}
