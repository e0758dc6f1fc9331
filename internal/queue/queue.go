// Package queue buffers reports and location pings on the device until the
// backend accepts them.
//
// Items are delivered at least once: an item leaves its queue only after the
// backend confirmed it or the user deleted it. Each failed attempt bumps the
// item's retry count; once the count reaches the retry limit the item is
// marked failed and waits for an explicit Retry.
package queue

import (
	"context"
	"log/slog"
	"slices"

	"github.com/tonero-cloud/safeguard/internal/apperr"
	"github.com/tonero-cloud/safeguard/internal/kv"
	"github.com/tonero-cloud/safeguard/internal/media"
	"github.com/tonero-cloud/safeguard/internal/models"
	"github.com/tonero-cloud/safeguard/internal/transport"
)

// DefaultMaxRetries is the number of failed attempts before an item is failed.
const DefaultMaxRetries = 3

// ReportUploader is the backend call that accepts a report.
type ReportUploader interface {
	CreateReport(ctx context.Context, token string, req models.CreateReportRequest) (*models.CreateReportResponse, error)
}

type options struct {
	media      media.Store
	maxRetries int
	logger     *slog.Logger
}

// Option configures a Queue or PingQueue.
type Option func(*options)

// WithMedia uploads the capture blob before creating the report.
func WithMedia(s media.Store) Option {
	return func(o *options) { o.media = s }
}

// WithMaxRetries sets the retry limit. Values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{maxRetries: DefaultMaxRetries, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Queue is the offline report queue.
type Queue struct {
	items      collection[models.QueuedReport]
	uploader   ReportUploader
	media      media.Store
	maxRetries int
	logger     *slog.Logger
}

// New returns a queue persisted in store under transport.QueueKey.
func New(store kv.Store, uploader ReportUploader, opts ...Option) *Queue {
	o := buildOptions(opts)
	return &Queue{
		items:      collection[models.QueuedReport]{store: store, key: transport.QueueKey, logger: o.logger},
		uploader:   uploader,
		media:      o.media,
		maxRetries: o.maxRetries,
		logger:     o.logger,
	}
}

// MaxRetries returns the retry limit.
func (q *Queue) MaxRetries() int { return q.maxRetries }

// Enqueue stores r as a new pending item and returns its id.
func (q *Queue) Enqueue(ctx context.Context, r models.NewReport) (string, error) {
	if !r.Type.Valid() {
		return "", apperr.ErrInvalidReport
	}

	item := models.QueuedReport{
		ID:              newID(),
		Type:            r.Type,
		LocalURI:        r.LocalURI,
		Caption:         r.Caption,
		IsAnonymous:     r.IsAnonymous,
		Latitude:        r.Latitude,
		Longitude:       r.Longitude,
		Timestamp:       r.Timestamp,
		DurationSeconds: r.DurationSeconds,
		RetryCount:      0,
		Status:          models.StatusPending,
	}

	err := q.items.mutate(ctx, func(items []models.QueuedReport) ([]models.QueuedReport, bool) {
		return append(items, item), true
	})
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindStorage, "ENQUEUE", "failed to persist report")
	}

	q.logger.Info("report queued", "id", item.ID, "type", item.Type)
	return item.ID, nil
}

// List returns every queued report in stored order. A storage failure yields
// an empty list.
func (q *Queue) List(ctx context.Context) []models.QueuedReport {
	return q.items.snapshot(ctx)
}

// Get returns the report with the given id.
func (q *Queue) Get(ctx context.Context, id string) (models.QueuedReport, bool) {
	for _, r := range q.List(ctx) {
		if r.ID == id {
			return r, true
		}
	}
	return models.QueuedReport{}, false
}

// Pending returns the reports waiting for an automatic attempt.
func (q *Queue) Pending(ctx context.Context) []models.QueuedReport {
	var out []models.QueuedReport
	for _, r := range q.List(ctx) {
		if r.Status == models.StatusPending {
			out = append(out, r)
		}
	}
	return out
}

// PendingCount counts reports not yet delivered, failed ones included.
func (q *Queue) PendingCount(ctx context.Context) int {
	n := 0
	for _, r := range q.List(ctx) {
		if r.Status == models.StatusPending || r.Status == models.StatusFailed {
			n++
		}
	}
	return n
}

// Update merges patch into the report with the given id. A missing id is
// not an error.
func (q *Queue) Update(ctx context.Context, id string, patch models.ReportPatch) error {
	return q.items.mutate(ctx, func(items []models.QueuedReport) ([]models.QueuedReport, bool) {
		i := slices.IndexFunc(items, func(r models.QueuedReport) bool { return r.ID == id })
		if i < 0 {
			return items, false
		}
		applyPatch(&items[i], patch)
		return items, true
	})
}

func applyPatch(r *models.QueuedReport, p models.ReportPatch) {
	if p.Caption != nil {
		r.Caption = *p.Caption
	}
	if p.IsAnonymous != nil {
		r.IsAnonymous = *p.IsAnonymous
	}
	if p.RetryCount != nil {
		r.RetryCount = *p.RetryCount
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.ErrorMessage != nil {
		r.ErrorMessage = *p.ErrorMessage
	}
}

// Remove deletes the report with the given id.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.items.mutate(ctx, func(items []models.QueuedReport) ([]models.QueuedReport, bool) {
		n := len(items)
		items = slices.DeleteFunc(items, func(r models.QueuedReport) bool { return r.ID == id })
		return items, len(items) != n
	})
}

// Retry moves a failed report back to pending. The retry count is kept, so
// the next failure fails it again.
func (q *Queue) Retry(ctx context.Context, id string) bool {
	found := false
	err := q.items.mutate(ctx, func(items []models.QueuedReport) ([]models.QueuedReport, bool) {
		i := slices.IndexFunc(items, func(r models.QueuedReport) bool { return r.ID == id })
		if i < 0 || items[i].Status != models.StatusFailed {
			return items, false
		}
		found = true
		items[i].Status = models.StatusPending
		items[i].ErrorMessage = ""
		return items, true
	})
	if err != nil {
		q.logger.Error("retry failed", "id", id, "error", err)
		return false
	}
	return found
}

// RecoverInterrupted returns reports left in uploading by a crash to pending
// and drops reports already delivered.
func (q *Queue) RecoverInterrupted(ctx context.Context) int {
	n, dropped := 0, 0
	err := q.items.mutate(ctx, func(items []models.QueuedReport) ([]models.QueuedReport, bool) {
		before := len(items)
		items = slices.DeleteFunc(items, func(r models.QueuedReport) bool { return r.Status == models.StatusDelivered })
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
		q.logger.Error("recovering interrupted uploads failed", "error", err)
		return 0
	}
	if dropped > 0 {
		q.logger.Info("dropped delivered reports", "count", dropped)
	}
	if n > 0 {
		q.logger.Info("recovered interrupted uploads", "count", n)
	}
	return n
}

// AttemptUpload sends one report to the backend. On success the report is
// removed; on failure its retry count is bumped and it is left pending or,
// at the retry limit, failed.
func (q *Queue) AttemptUpload(ctx context.Context, r models.QueuedReport, token string) Attempt {
	var current models.QueuedReport
	err := q.items.mutate(ctx, func(items []models.QueuedReport) ([]models.QueuedReport, bool) {
		i := slices.IndexFunc(items, func(it models.QueuedReport) bool { return it.ID == r.ID })
		// An item already uploading is owned by another attempt.
		if i < 0 || items[i].Status == models.StatusUploading || items[i].Status == models.StatusDelivered {
			return items, false
		}
		items[i].Status = models.StatusUploading
		current = items[i]
		return items, true
	})
	if err != nil {
		q.logger.Error("marking report uploading failed", "id", r.ID, "error", err)
		return Attempt{ID: r.ID, Outcome: Skipped, RetryCount: r.RetryCount, Err: err}
	}
	if current.ID == "" {
		q.logger.Info("report removed or claimed before upload", "id", r.ID)
		return Attempt{ID: r.ID, Outcome: Skipped, RetryCount: r.RetryCount}
	}

	resp, err := q.upload(ctx, &current, token)
	if err != nil {
		return q.recordFailure(ctx, current, err)
	}

	// The backend has the report; a leftover entry would upload it twice.
	if err := q.items.settle(ctx,
		func(it models.QueuedReport) bool { return it.ID == current.ID },
		func(it *models.QueuedReport) { it.Status = models.StatusDelivered },
	); err != nil {
		q.logger.Error("removing uploaded report failed", "id", current.ID, "error", err)
	}
	q.logger.Info("report uploaded", "id", current.ID, "report_id", resp.ReportID)
	return Attempt{ID: current.ID, Outcome: Uploaded, RetryCount: current.RetryCount, RemoteID: resp.ReportID}
}

func (q *Queue) upload(ctx context.Context, r *models.QueuedReport, token string) (*models.CreateReportResponse, error) {
	fileURL := r.LocalURI
	uploaded := false

	if q.media != nil && r.LocalURI != "" {
		if r.RemoteURL == "" {
			url, err := q.media.Put(ctx, r.LocalURI, r.Type)
			if err != nil {
				return nil, apperr.Wrap(err, apperr.KindNetwork, "MEDIA_UPLOAD", "failed to upload capture").WithRetryable(true)
			}
			r.RemoteURL = url
			// Remember the blob so a later retry does not upload it again.
			id := r.ID
			if err := q.items.mutate(ctx, func(items []models.QueuedReport) ([]models.QueuedReport, bool) {
				i := slices.IndexFunc(items, func(it models.QueuedReport) bool { return it.ID == id })
				if i < 0 {
					return items, false
				}
				items[i].RemoteURL = url
				return items, true
			}); err != nil {
				q.logger.Warn("recording media url failed", "id", id, "error", err)
			}
		}
		fileURL = r.RemoteURL
		uploaded = true
	}

	return q.uploader.CreateReport(ctx, token, models.CreateReportRequest{
		Type:            r.Type,
		Caption:         r.Caption,
		IsAnonymous:     r.IsAnonymous,
		FileURL:         fileURL,
		Uploaded:        uploaded,
		Latitude:        r.Latitude,
		Longitude:       r.Longitude,
		DurationSeconds: r.DurationSeconds,
	})
}

func (q *Queue) recordFailure(ctx context.Context, r models.QueuedReport, cause error) Attempt {
	a := Attempt{ID: r.ID, Err: cause}
	err := q.items.mutate(ctx, func(items []models.QueuedReport) ([]models.QueuedReport, bool) {
		i := slices.IndexFunc(items, func(it models.QueuedReport) bool { return it.ID == r.ID })
		if i < 0 {
			a.Outcome = Skipped
			a.RetryCount = r.RetryCount
			return items, false
		}
		a.Outcome, a.RetryCount = nextState(&items[i].Status, &items[i].RetryCount, &items[i].ErrorMessage, cause, q.maxRetries)
		return items, true
	})
	if err != nil {
		q.logger.Error("recording upload failure failed", "id", r.ID, "error", err)
	}

	q.logger.Warn("report upload failed", "id", r.ID, "retry_count", a.RetryCount, "outcome", a.Outcome, "error", cause)
	return a
}
