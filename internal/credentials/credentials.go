// Package credentials defines the storage boundary for discovery
// credentials. Results are delivered through callbacks on background
// goroutines, matching the asynchronous platform surface the rest of the
// stack is built against.
package credentials

import (
	"context"
	"fmt"
	"sync"

	"github.com/srg/bleprox/internal/groutine"
)

// Credential is one public or private discovery credential.
type Credential struct {
	SecretID string
	KeySeed  []byte
	Metadata map[string]string
}

// SaveCallback reports the outcome of a save operation.
type SaveCallback func(err error)

// GetCallback delivers fetched credentials or an error.
type GetCallback func(creds []Credential, err error)

// Storage persists credentials per account. Implementations deliver results
// asynchronously and must tolerate concurrent calls.
type Storage interface {
	SavePrivateCredentials(account string, creds []Credential, cb SaveCallback)
	SavePublicCredentials(account string, creds []Credential, cb SaveCallback)
	GetPrivateCredentials(account string, cb GetCallback)
	GetPublicCredentials(account string, cb GetCallback)
}

// MemoryStorage is the in-process Storage used when persistence is not
// required.
type MemoryStorage struct {
	mu      sync.Mutex
	private map[string][]Credential
	public  map[string][]Credential
}

// NewMemoryStorage creates an empty in-process store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		private: make(map[string][]Credential),
		public:  make(map[string][]Credential),
	}
}

func (s *MemoryStorage) SavePrivateCredentials(account string, creds []Credential, cb SaveCallback) {
	s.save(s.private, account, creds, cb)
}

func (s *MemoryStorage) SavePublicCredentials(account string, creds []Credential, cb SaveCallback) {
	s.save(s.public, account, creds, cb)
}

func (s *MemoryStorage) GetPrivateCredentials(account string, cb GetCallback) {
	s.get(s.private, account, cb)
}

func (s *MemoryStorage) GetPublicCredentials(account string, cb GetCallback) {
	s.get(s.public, account, cb)
}

func (s *MemoryStorage) save(store map[string][]Credential, account string, creds []Credential, cb SaveCallback) {
	s.mu.Lock()
	store[account] = append([]Credential(nil), creds...)
	s.mu.Unlock()

	if cb != nil {
		groutine.Go(context.Background(), "credentials-save", func(context.Context) {
			cb(nil)
		})
	}
}

func (s *MemoryStorage) get(store map[string][]Credential, account string, cb GetCallback) {
	s.mu.Lock()
	creds, ok := store[account]
	out := append([]Credential(nil), creds...)
	s.mu.Unlock()

	groutine.Go(context.Background(), "credentials-get", func(context.Context) {
		if !ok {
			cb(nil, fmt.Errorf("no credentials stored for account %q", account))
			return
		}
		cb(out, nil)
	})
}
