package queue

import "github.com/tonero-cloud/safeguard/internal/models"

// Outcome is the result of one delivery attempt.
type Outcome int

const (
	// Uploaded means the backend accepted the item and it left the queue.
	Uploaded Outcome = iota
	// Retrying means the attempt failed and the item stays pending.
	Retrying
	// Failed means the attempt failed and the item hit the retry limit.
	Failed
	// Skipped means the item was no longer queued, so nothing was sent.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Uploaded:
		return "uploaded"
	case Retrying:
		return "retrying"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}

// Attempt describes what happened to one item.
type Attempt struct {
	ID         string
	Outcome    Outcome
	RetryCount int
	// RemoteID is the id the backend assigned, when it returned one.
	RemoteID string
	Err      error
}

// OK reports whether the item was delivered.
func (a Attempt) OK() bool { return a.Outcome == Uploaded }

// nextState bumps the retry count after a failure and picks the new status.
// The error message is recorded only when the item fails for good.
func nextState(status *models.ReportStatus, retries *int, msg *string, cause error, limit int) (Outcome, int) {
	*retries++
	if *retries >= limit {
		*status = models.StatusFailed
		*msg = cause.Error()
		return Failed, *retries
	}
	*status = models.StatusPending
	return Retrying, *retries
}
