// Package netstate reports whether the device can reach the internet.
package netstate

import (
	"context"
	"sync"
)

// State is one connectivity observation. IsInternetReachable is nil when
// reachability has not been determined yet.
type State struct {
	IsConnected         bool  `json:"isConnected"`
	IsInternetReachable *bool `json:"isInternetReachable"`
}

// Online is true only when the link is up and the internet is known to be
// reachable.
func (s State) Online() bool {
	return s.IsConnected && s.IsInternetReachable != nil && *s.IsInternetReachable
}

// Equal compares two states, treating nil reachability as its own value.
func (s State) Equal(o State) bool {
	if s.IsConnected != o.IsConnected {
		return false
	}
	if s.IsInternetReachable == nil || o.IsInternetReachable == nil {
		return s.IsInternetReachable == nil && o.IsInternetReachable == nil
	}
	return *s.IsInternetReachable == *o.IsInternetReachable
}

// Reachable returns a pointer for State.IsInternetReachable.
func Reachable(b bool) *bool { return &b }

// Online and Offline are ready-made states.
var (
	Online  = State{IsConnected: true, IsInternetReachable: Reachable(true)}
	Offline = State{IsConnected: false, IsInternetReachable: Reachable(false)}
)

// Source is a subscribable connectivity signal.
type Source interface {
	Current(ctx context.Context) State
	// Subscribe registers fn for every change event. The returned func
	// unregisters it.
	Subscribe(fn func(State)) (cancel func())
}

// listeners is the subscriber registry shared by the sources.
type listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(State)
}

func (l *listeners) add(fn func(State)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(State))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners) emit(s State) {
	l.mu.Lock()
	fns := make([]func(State), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Manual is a source driven by the host, which pushes every observation
// through Set. Each Set is delivered as an event even if nothing changed.
type Manual struct {
	mu    sync.Mutex
	state State
	subs  listeners
}

// NewManual returns a source starting at initial.
func NewManual(initial State) *Manual {
	return &Manual{state: initial}
}

func (m *Manual) Current(context.Context) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manual) Subscribe(fn func(State)) func() {
	return m.subs.add(fn)
}

// Set records s and notifies subscribers.
func (m *Manual) Set(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.subs.emit(s)
}
