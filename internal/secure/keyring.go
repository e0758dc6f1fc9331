package secure

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// Keyring stores secrets in the OS credential manager (Keychain, Secret
// Service, Windows Credential Manager). Any failure other than a missing item
// means the platform cannot serve us and is reported as ErrUnavailable.
type Keyring struct {
	Service string
}

// NewKeyring returns a keyring backend scoped to service.
func NewKeyring(service string) *Keyring {
	return &Keyring{Service: service}
}

func (k *Keyring) Get(key string) (string, error) {
	v, err := keyring.Get(k.Service, key)
	if err != nil {
		return "", mapKeyringErr(err)
	}
	return v, nil
}

func (k *Keyring) Set(key, value string) error {
	if err := keyring.Set(k.Service, key, value); err != nil {
		return mapKeyringErr(err)
	}
	return nil
}

func (k *Keyring) Delete(key string) error {
	if err := keyring.Delete(k.Service, key); err != nil {
		return mapKeyringErr(err)
	}
	return nil
}

func mapKeyringErr(err error) error {
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
