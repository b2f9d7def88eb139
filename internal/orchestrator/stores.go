package orchestrator

import (
	"context"
	"sync"
)

// PendingCalls holds the customer number registered by prepare-call until
// the operator's answer webhook consumes it. At most one entry per
// operator id; a second prepare overwrites the first (last-prepared-wins).
//
// Take is the synchronization point: the atomic read-and-remove is what
// keeps a late duplicate answer from dialing the customer twice.
type PendingCalls interface {
	Put(ctx context.Context, operatorID, customerNumber string) error
	// Take removes and returns the pending number for the operator.
	// ok is false when nothing was pending.
	Take(ctx context.Context, operatorID string) (number string, ok bool, err error)
}

// LegLinks correlates an operator leg to the customer leg dialed into its
// conversation, so one hangup request can tear down both. Each customer
// leg is linked from at most one operator leg.
type LegLinks interface {
	Link(ctx context.Context, operatorLegID, customerLegID string) error
	// Take removes and returns the linked customer leg, if any.
	Take(ctx context.Context, operatorLegID string) (customerLegID string, ok bool, err error)
}

// MemoryPendingCalls is the single-process default. State does not
// survive a restart; a restart only loses calls not yet answered.
type MemoryPendingCalls struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemoryPendingCalls() *MemoryPendingCalls {
	return &MemoryPendingCalls{m: make(map[string]string)}
}

func (s *MemoryPendingCalls) Put(ctx context.Context, operatorID, customerNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[operatorID] = customerNumber
	return nil
}

func (s *MemoryPendingCalls) Take(ctx context.Context, operatorID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	number, ok := s.m[operatorID]
	if ok {
		delete(s.m, operatorID)
	}
	return number, ok, nil
}

// MemoryLegLinks is the single-process default leg correlation store.
type MemoryLegLinks struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemoryLegLinks() *MemoryLegLinks {
	return &MemoryLegLinks{m: make(map[string]string)}
}

func (s *MemoryLegLinks) Link(ctx context.Context, operatorLegID, customerLegID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[operatorLegID] = customerLegID
	return nil
}

func (s *MemoryLegLinks) Take(ctx context.Context, operatorLegID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	customerLegID, ok := s.m[operatorLegID]
	if ok {
		delete(s.m, operatorLegID)
	}
	return customerLegID, ok, nil
}
