package secure

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tonero-cloud/safeguard/internal/crypto"
)

// vaultFile is the on-disk layout of a Vault.
type vaultFile struct {
	Salt string `json:"salt"`
	Data string `json:"data"`
}

// Vault is an encrypted file for headless hosts with no OS keyring. It is
// unavailable until a passphrase is supplied.
type Vault struct {
	mu         sync.Mutex
	path       string
	passphrase string
}

// NewVault returns a vault at path. An empty passphrase yields a vault that
// reports ErrUnavailable for every call.
func NewVault(path, passphrase string) *Vault {
	return &Vault{path: path, passphrase: passphrase}
}

func (v *Vault) read() (map[string]string, []byte, error) {
	raw, err := os.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			salt, serr := crypto.GenerateSalt()
			if serr != nil {
				return nil, nil, serr
			}
			return make(map[string]string), salt, nil
		}
		return nil, nil, err
	}

	var f vaultFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, nil, fmt.Errorf("parse vault: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(f.Salt)
	if err != nil {
		return nil, nil, fmt.Errorf("decode vault salt: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("decode vault data: %w", err)
	}
	plain, err := crypto.Open(sealed, crypto.DeriveKey(v.passphrase, salt))
	if err != nil {
		return nil, nil, err
	}

	items := make(map[string]string)
	if err := json.Unmarshal(plain, &items); err != nil {
		return nil, nil, fmt.Errorf("parse vault items: %w", err)
	}
	return items, salt, nil
}

func (v *Vault) write(items map[string]string, salt []byte) error {
	plain, err := json.Marshal(items)
	if err != nil {
		return err
	}
	sealed, err := crypto.Seal(plain, crypto.DeriveKey(v.passphrase, salt))
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(vaultFile{
		Salt: base64.StdEncoding.EncodeToString(salt),
		Data: base64.StdEncoding.EncodeToString(sealed),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(v.path), 0700); err != nil {
		return err
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, v.path)
}

func (v *Vault) Get(key string) (string, error) {
	if v.passphrase == "" {
		return "", ErrUnavailable
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	items, _, err := v.read()
	if err != nil {
		return "", unavailable(err)
	}
	val, ok := items[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (v *Vault) Set(key, value string) error {
	if v.passphrase == "" {
		return ErrUnavailable
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	items, salt, err := v.read()
	if err != nil {
		return unavailable(err)
	}
	items[key] = value
	return v.write(items, salt)
}

func (v *Vault) Delete(key string) error {
	if v.passphrase == "" {
		return ErrUnavailable
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	items, salt, err := v.read()
	if err != nil {
		return unavailable(err)
	}
	if _, ok := items[key]; !ok {
		return ErrNotFound
	}
	delete(items, key)
	return v.write(items, salt)
}

// unavailable marks a vault that cannot be opened (wrong passphrase, corrupt
// file) as unusable rather than empty, so callers fall back instead of
// overwriting it.
func unavailable(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
