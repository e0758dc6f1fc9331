package queue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tonero-cloud/safeguard/internal/apperr"
	"github.com/tonero-cloud/safeguard/internal/kv"
	"github.com/tonero-cloud/safeguard/internal/models"
	"github.com/tonero-cloud/safeguard/internal/transport"
)

// PingSender delivers location pings for the active panic or escort.
type PingSender interface {
	LogPanicLocation(ctx context.Context, token string, p models.LocationPoint) error
	LogEscortLocation(ctx context.Context, token string, p models.LocationPoint) error
}

// PingQueue holds location pings taken while the backend was unreachable.
type PingQueue struct {
	items      collection[models.QueuedPing]
	sender     PingSender
	maxRetries int
	logger     *slog.Logger
}

// NewPingQueue returns a ping queue persisted under transport.PingQueueKey.
// WithMedia has no effect here.
func NewPingQueue(store kv.Store, sender PingSender, opts ...Option) *PingQueue {
	o := buildOptions(opts)
	return &PingQueue{
		items:      collection[models.QueuedPing]{store: store, key: transport.PingQueueKey, logger: o.logger},
		sender:     sender,
		maxRetries: o.maxRetries,
		logger:     o.logger,
	}
}

// Enqueue stores a ping for later delivery.
func (q *PingQueue) Enqueue(ctx context.Context, kind models.PingKind, p models.LocationPoint) (string, error) {
	if kind != models.PingPanic && kind != models.PingEscort {
		return "", apperr.New(apperr.KindValidation, "INVALID_PING", fmt.Sprintf("unknown ping kind %q", kind))
	}
	item := models.QueuedPing{ID: newID(), Kind: kind, Point: p, Status: models.StatusPending}

	err := q.items.mutate(ctx, func(items []models.QueuedPing) ([]models.QueuedPing, bool) {
		return append(items, item), true
	})
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindStorage, "ENQUEUE", "failed to persist ping")
	}
	q.logger.Info("location ping queued", "id", item.ID, "kind", kind)
	return item.ID, nil
}

// List returns every queued ping.
func (q *PingQueue) List(ctx context.Context) []models.QueuedPing {
	return q.items.snapshot(ctx)
}

// Pending returns the pings waiting for an automatic attempt.
func (q *PingQueue) Pending(ctx context.Context) []models.QueuedPing {
	var out []models.QueuedPing
	for _, p := range q.List(ctx) {
		if p.Status == models.StatusPending {
			out = append(out, p)
		}
	}
	return out
}

// PendingCount counts pings not yet delivered, failed ones included.
func (q *PingQueue) PendingCount(ctx context.Context) int {
	n := 0
	for _, p := range q.List(ctx) {
		if p.Status == models.StatusPending || p.Status == models.StatusFailed {
			n++
		}
	}
	return n
}

// Get returns the ping with the given id.
func (q *PingQueue) Get(ctx context.Context, id string) (models.QueuedPing, bool) {
	for _, p := range q.List(ctx) {
		if p.ID == id {
			return p, true
		}
	}
	return models.QueuedPing{}, false
}

// Retry moves a failed ping back to pending, keeping its retry count.
func (q *PingQueue) Retry(ctx context.Context, id string) bool {
	found := false
	err := q.items.mutate(ctx, func(items []models.QueuedPing) ([]models.QueuedPing, bool) {
		i := slices.IndexFunc(items, func(p models.QueuedPing) bool { return p.ID == id })
		if i < 0 || items[i].Status != models.StatusFailed {
			return items, false
		}
		found = true
		items[i].Status = models.StatusPending
		items[i].ErrorMessage = ""
		return items, true
	})
	if err != nil {
		q.logger.Error("ping retry failed", "id", id, "error", err)
		return false
	}
	return found
}

// Remove deletes the ping with the given id.
func (q *PingQueue) Remove(ctx context.Context, id string) error {
	return q.items.mutate(ctx, func(items []models.QueuedPing) ([]models.QueuedPing, bool) {
		n := len(items)
		items = slices.DeleteFunc(items, func(p models.QueuedPing) bool { return p.ID == id })
		return items, len(items) != n
	})
}

// RecoverInterrupted returns pings left in uploading by a crash to pending
// and drops pings already delivered.
func (q *PingQueue) RecoverInterrupted(ctx context.Context) int {
	n, dropped := 0, 0
	err := q.items.mutate(ctx, func(items []models.QueuedPing) ([]models.QueuedPing, bool) {
		before := len(items)
		items = slices.DeleteFunc(items, func(p models.QueuedPing) bool { return p.Status == models.StatusDelivered })
		dropped = before - len(items)
		for i := range items {
			if items[i].Status == models.StatusUploading {
				items[i].Status = models.StatusPending
				n++
			}
		}
		return items, n > 0 || dropped > 0
	})
	if err != nil {
		q.logger.Error("recovering interrupted pings failed", "error", err)
		return 0
	}
	return n
}

// AttemptSend delivers one ping with the same retry rules as reports.
func (q *PingQueue) AttemptSend(ctx context.Context, p models.QueuedPing, token string) Attempt {
	var current models.QueuedPing
	err := q.items.mutate(ctx, func(items []models.QueuedPing) ([]models.QueuedPing, bool) {
		i := slices.IndexFunc(items, func(it models.QueuedPing) bool { return it.ID == p.ID })
		if i < 0 || items[i].Status == models.StatusUploading || items[i].Status == models.StatusDelivered {
			return items, false
		}
		items[i].Status = models.StatusUploading
		current = items[i]
		return items, true
	})
	if err != nil || current.ID == "" {
		return Attempt{ID: p.ID, Outcome: Skipped, RetryCount: p.RetryCount, Err: err}
	}

	if err := q.send(ctx, current, token); err != nil {
		a := Attempt{ID: current.ID, Err: err}
		if merr := q.items.mutate(ctx, func(items []models.QueuedPing) ([]models.QueuedPing, bool) {
			i := slices.IndexFunc(items, func(it models.QueuedPing) bool { return it.ID == current.ID })
			if i < 0 {
				a.Outcome, a.RetryCount = Skipped, current.RetryCount
				return items, false
			}
			a.Outcome, a.RetryCount = nextState(&items[i].Status, &items[i].RetryCount, &items[i].ErrorMessage, err, q.maxRetries)
			return items, true
		}); merr != nil {
			q.logger.Error("recording ping failure failed", "id", current.ID, "error", merr)
		}
		q.logger.Warn("location ping failed", "id", current.ID, "retry_count", a.RetryCount, "outcome", a.Outcome, "error", err)
		return a
	}

	if err := q.items.settle(ctx,
		func(it models.QueuedPing) bool { return it.ID == current.ID },
		func(it *models.QueuedPing) { it.Status = models.StatusDelivered },
	); err != nil {
		q.logger.Error("removing delivered ping failed", "id", current.ID, "error", err)
	}
	return Attempt{ID: current.ID, Outcome: Uploaded, RetryCount: current.RetryCount}
}

func (q *PingQueue) send(ctx context.Context, p models.QueuedPing, token string) error {
	switch p.Kind {
	case models.PingEscort:
		return q.sender.LogEscortLocation(ctx, token, p.Point)
	default:
		return q.sender.LogPanicLocation(ctx, token, p.Point)
	}
}
