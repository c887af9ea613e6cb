// ABOUTME: Periodic publisher that fans due approved records out to destinations
// ABOUTME: Partial delivery failure never blocks other destinations or records

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/enzopromo/promo-gateway/internal/store"
	"github.com/enzopromo/promo-gateway/internal/transport"
)

// Publisher polls the store for due approved records and publishes
// them to every configured destination. A single active instance is
// assumed; the loop itself provides no leader election.
type Publisher struct {
	store        store.Store
	destinations []transport.Destination
	messenger    transport.Messenger
	interval     time.Duration
	logger       *slog.Logger

	now func() time.Time
}

// New creates a publisher. messenger is used for best-effort owner
// notifications after a record is posted.
func New(st store.Store, destinations []transport.Destination, messenger transport.Messenger, interval time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:        st,
		destinations: destinations,
		messenger:    messenger,
		interval:     interval,
		logger:       logger.With("component", "scheduler"),
		now:          time.Now,
	}
}

// Run ticks until the context is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("publisher started",
		"interval", p.interval, "destinations", len(p.destinations))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("publisher stopped")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick publishes every due record. Failures in one record's processing
// never halt the remaining records.
func (p *Publisher) tick(ctx context.Context) {
	due, err := p.store.ListDue(ctx, p.now())
	if err != nil {
		p.logger.Error("listing due records", "error", err)
		return
	}

	for _, rec := range due {
		p.publishRecord(ctx, rec)
	}
}

// publishRecord attempts delivery to every destination, then marks the
// record posted regardless of how many deliveries succeeded. A record
// is published at-least-once per destination, never retried on partial
// failure.
func (p *Publisher) publishRecord(ctx context.Context, rec *store.Record) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic publishing record", "record", rec.ID, "panic", r)
		}
	}()

	directive := renderRecord(rec)

	outcomes := make([]string, 0, len(p.destinations))
	for _, dest := range p.destinations {
		if err := dest.Publish(ctx, directive); err != nil {
			p.logger.Error("delivery failed",
				"record", rec.ID, "destination", dest.Name(), "error", err)
			outcomes = append(outcomes, dest.Name()+"=failed")
			continue
		}
		p.logger.Info("delivered record",
			"record", rec.ID, "destination", dest.Name())
		outcomes = append(outcomes, dest.Name()+"=ok")
	}

	err := p.store.UpdateRecordFields(ctx, rec.ID, map[string]any{
		"status":           store.StatusPosted,
		"delivery_outcome": strings.Join(outcomes, " "),
	})
	if err != nil {
		p.logger.Error("marking record posted", "record", rec.ID, "error", err)
		return
	}

	p.notifyOwner(ctx, rec)
}

// notifyOwner tells the owner their record went out. Best-effort.
func (p *Publisher) notifyOwner(ctx context.Context, rec *store.Record) {
	if rec.RoomID == "" {
		return
	}
	err := p.messenger.Send(ctx, rec.RoomID, transport.Directive{
		Text: fmt.Sprintf("📣 Your order `%s` has been posted.", rec.ID),
	})
	if err != nil {
		p.logger.Warn("owner notification failed",
			"record", rec.ID, "owner", rec.OwnerID, "error", err)
	}
}

// renderRecord builds the outbound announcement for a record.
func renderRecord(rec *store.Record) transport.Directive {
	switch rec.ContentKind {
	case store.ContentPhoto, store.ContentVideo:
		d := transport.Directive{Text: rec.Caption, MediaRef: rec.MediaRef}
		if rec.ContentKind == store.ContentVideo {
			d.MediaKind = "video"
		}
		return d
	case store.ContentText:
		return transport.Directive{Text: rec.Caption}
	}
	return transport.Directive{
		Text: fmt.Sprintf("📣 %s — %s (%s)", rec.Service, rec.PackageGroup, rec.PackageQty),
	}
}
