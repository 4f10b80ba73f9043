// Package credentials stores the GitHub token used for ingestion.
package credentials

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

// ErrReadOnly is returned when writing to a store that cannot be modified.
var ErrReadOnly = errors.New("credential store is read-only")

// Store is a get/set/delete capability for a single token.
// Get returns ok=false when no token is stored.
type Store interface {
	Get() (token string, ok bool, err error)
	Set(token string) error
	Delete() error
	Source() string
}

// Keyring stores the token in the OS keychain.
type Keyring struct {
	Service string
	Account string
}

// NewKeyring returns a keyring-backed Store.
func NewKeyring(service, account string) *Keyring {
	return &Keyring{Service: service, Account: account}
}

func (k *Keyring) Get() (string, bool, error) {
	token, err := keyring.Get(k.Service, k.Account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read keyring: %w", err)
	}
	return token, token != "", nil
}

func (k *Keyring) Set(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}
	if err := keyring.Set(k.Service, k.Account, token); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}

// Delete removes the token. Deleting a missing token is not an error.
func (k *Keyring) Delete() error {
	err := keyring.Delete(k.Service, k.Account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete keyring entry: %w", err)
	}
	return nil
}

func (k *Keyring) Source() string { return "keyring" }

// Static serves a token from configuration or the environment.
type Static struct {
	Token string
	From  string
}

func (s *Static) Get() (string, bool, error) { return s.Token, s.Token != "", nil }
func (s *Static) Set(string) error           { return ErrReadOnly }
func (s *Static) Delete() error              { return ErrReadOnly }
func (s *Static) Source() string             { return s.From }

// Memory keeps the token in process memory.
type Memory struct {
	mu    sync.Mutex
	token string
}

func (m *Memory) Get() (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.token != "", nil
}

func (m *Memory) Set(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *Memory) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

func (m *Memory) Source() string { return "memory" }

// Chain reads from the first store holding a token. Writes go to the
// writable store.
type Chain struct {
	mu       sync.Mutex
	readers  []Store
	writable Store
	source   string
}

// NewChain returns a Store that prefers static (may be nil) and falls back
// to writable.
func NewChain(static *Static, writable Store) *Chain {
	c := &Chain{writable: writable}
	if static != nil && static.Token != "" {
		c.readers = append(c.readers, static)
	}
	c.readers = append(c.readers, writable)
	return c
}

func (c *Chain) Get() (string, bool, error) {
	for _, r := range c.readers {
		token, ok, err := r.Get()
		if err != nil {
			return "", false, err
		}
		if ok {
			c.mu.Lock()
			c.source = r.Source()
			c.mu.Unlock()
			return token, true, nil
		}
	}
	return "", false, nil
}

func (c *Chain) Set(token string) error { return c.writable.Set(token) }
func (c *Chain) Delete() error          { return c.writable.Delete() }

// Source names the store that answered the last successful Get.
func (c *Chain) Source() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == "" {
		return c.writable.Source()
	}
	return c.source
}

// Mask hides all but the last four characters of a token.
func Mask(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", len(token)-4) + token[len(token)-4:]
}
