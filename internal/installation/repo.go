package installation

import (
	"context"
	"errors"
	"sync"
)

// Repository is the persistence contract for installation metadata.
// A deployment owns exactly one row.
type Repository interface {
	// Find returns the installation row, or (zero, ErrNotFound) when the
	// deployment has not been provisioned yet.
	Find(ctx context.Context) (Metadata, error)
	Insert(ctx context.Context, m Metadata) (Metadata, error)
	UpdateSecret(ctx context.Context, installationID, sharedSecret string) error
}

var ErrNotFound = errors.New("installation: not found")

// MemoryRepo is an in-memory repository used by tests.
type MemoryRepo struct {
	mu  sync.Mutex
	row *Metadata
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Find(ctx context.Context) (Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.row == nil {
		return Metadata{}, ErrNotFound
	}
	return *r.row, nil
}

func (r *MemoryRepo) Insert(ctx context.Context, m Metadata) (Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.ID = 1
	r.row = &m
	return m, nil
}

func (r *MemoryRepo) UpdateSecret(ctx context.Context, installationID, sharedSecret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.row == nil || r.row.InstallationID != installationID {
		return ErrNotFound
	}
	r.row.SharedSecret = sharedSecret
	return nil
}

// Seed installs a row directly, bypassing provisioning. Test helper.
func (r *MemoryRepo) Seed(m Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == 0 {
		m.ID = 1
	}
	r.row = &m
}
