package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tonero-cloud/safeguard/internal/models"
)

// ErrNoFix is returned before the host has reported any position.
var ErrNoFix = errors.New("no location fix yet")

// Latest is a LocationProvider fed by the host app, which pushes each new
// GPS fix through Set.
type Latest struct {
	mu    sync.RWMutex
	point models.LocationPoint
	set   bool
}

// Set records a new fix. A zero timestamp is replaced with the current time.
func (l *Latest) Set(p models.LocationPoint) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	l.point = p
	l.set = true
	l.mu.Unlock()
}

// Location returns the most recent fix.
func (l *Latest) Location(context.Context) (models.LocationPoint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.set {
		return models.LocationPoint{}, ErrNoFix
	}
	p := l.point
	p.Timestamp = time.Now().UTC()
	return p, nil
}
