// Package secure wraps platform credential storage. Every backend reports the
// same two sentinel errors so the credential store can fall back uniformly.
package secure

import "errors"

var (
	// ErrNotFound means the backend works but holds no value for the key.
	ErrNotFound = errors.New("secure: item not found")
	// ErrUnavailable means the backend cannot be used on this platform.
	ErrUnavailable = errors.New("secure: store unavailable")
)

// Store is a secret store keyed by name.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Unavailable is the backend for platforms without a secure store.
type Unavailable struct{}

func (Unavailable) Get(string) (string, error) { return "", ErrUnavailable }
func (Unavailable) Set(string, string) error   { return ErrUnavailable }
func (Unavailable) Delete(string) error        { return ErrUnavailable }
