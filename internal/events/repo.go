package events

import (
	"context"
	"errors"
	"sync"
)

// Repository is the persistence contract for calls and their events.
//
// Calls are upserted by provider uuid; events are append-only. No
// Update/Delete methods for events are provided by design.
type Repository interface {
	FindCallByUUID(ctx context.Context, uuid string) (Call, error)
	InsertCall(ctx context.Context, c Call) (Call, error)
	UpdateCallStatus(ctx context.Context, uuid, status string) error
	ListCalls(ctx context.Context) ([]Call, error)

	AppendEvent(ctx context.Context, e CallEvent) error
	EventsByCallID(ctx context.Context, callID int64) ([]CallEvent, error)

	// WithinTx runs fn against a transactional view of the repository,
	// so a call upsert and its event append commit or roll back as one.
	WithinTx(ctx context.Context, fn func(Repository) error) error
}

var ErrNotFound = errors.New("events: not found")

// MemoryRepo is an in-memory repository used by tests.
type MemoryRepo struct {
	mu       sync.Mutex
	nextCall int64
	nextEv   int64
	calls    map[string]Call
	events   []CallEvent
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: make(map[string]Call)}
}

func (r *MemoryRepo) FindCallByUUID(ctx context.Context, uuid string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[uuid]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) InsertCall(ctx context.Context, c Call) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.UUID]; ok {
		return Call{}, errors.New("events: duplicate call uuid")
	}
	r.nextCall++
	c.ID = r.nextCall
	r.calls[c.UUID] = c
	return c, nil
}

func (r *MemoryRepo) UpdateCallStatus(ctx context.Context, uuid, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[uuid]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	r.calls[uuid] = c
	return nil
}

func (r *MemoryRepo) ListCalls(ctx context.Context) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) AppendEvent(ctx context.Context, e CallEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextEv++
	e.ID = r.nextEv
	r.events = append(r.events, e)
	return nil
}

// WithinTx gives rollback-on-error semantics only: state is snapshotted
// before fn and restored when it fails. Isolation from concurrent
// writers is not provided, which in-package tests do not need.
func (r *MemoryRepo) WithinTx(ctx context.Context, fn func(Repository) error) error {
	r.mu.Lock()
	prevCalls := make(map[string]Call, len(r.calls))
	for k, v := range r.calls {
		prevCalls[k] = v
	}
	prevEvents := append([]CallEvent(nil), r.events...)
	prevNextCall, prevNextEv := r.nextCall, r.nextEv
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.calls = prevCalls
		r.events = prevEvents
		r.nextCall, r.nextEv = prevNextCall, prevNextEv
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *MemoryRepo) EventsByCallID(ctx context.Context, callID int64) ([]CallEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallEvent
	for _, e := range r.events {
		if e.CallID == callID {
			out = append(out, e)
		}
	}
	return out, nil
}
