package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func eventPayload(uuid, status string) map[string]any {
	return map[string]any{
		"uuid":              uuid,
		"conversation_uuid": "conv-1",
		"status":            status,
		"direction":         "outbound",
		"from":              map[string]any{"type": "phone", "number": "+390000"},
		"to":                map[string]any{"type": "phone", "number": "+391234"},
		"timestamp":         "2026-01-02T15:04:05Z",
	}
}

func TestHandleEventCreatesCallOnFirstSight(t *testing.T) {
	repo := NewMemoryRepo()
	ing := NewIngestor(repo, slog.Default())
	ctx := context.Background()

	payload := eventPayload("uuid-1", "ringing")
	payload["custom_data"] = map[string]any{
		"operator_id": float64(7),
		"campaign_id": float64(12),
	}

	if err := ing.HandleEvent(ctx, payload); err != nil {
		t.Fatalf("handle: %v", err)
	}

	call, err := repo.FindCallByUUID(ctx, "uuid-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if call.Status != "ringing" || call.Direction != "outbound" {
		t.Fatalf("unexpected call: %+v", call)
	}
	if call.ToNumber != "+391234" || call.ToType != "phone" {
		t.Fatalf("to endpoint not captured: %+v", call)
	}
	if call.OperatorID == nil || *call.OperatorID != 7 {
		t.Fatalf("operator linkage not captured: %+v", call.OperatorID)
	}
	if call.CampaignID == nil || *call.CampaignID != 12 {
		t.Fatalf("campaign linkage not captured: %+v", call.CampaignID)
	}
	if call.ContactID != nil {
		t.Fatalf("contact linkage should be absent")
	}

	evs, err := repo.EventsByCallID(ctx, call.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].Timestamp == nil {
		t.Fatalf("timestamp not parsed")
	}

	// Payload must be stored verbatim (as JSON of the delivery).
	var stored map[string]any
	if err := json.Unmarshal([]byte(evs[0].Payload), &stored); err != nil {
		t.Fatalf("stored payload not json: %v", err)
	}
	if stored["uuid"] != "uuid-1" || stored["status"] != "ringing" {
		t.Fatalf("verbatim payload mangled: %v", stored)
	}
}

func TestHandleEventIdempotentOnCall(t *testing.T) {
	repo := NewMemoryRepo()
	ing := NewIngestor(repo, slog.Default())
	ctx := context.Background()

	if err := ing.HandleEvent(ctx, eventPayload("uuid-1", "ringing")); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := ing.HandleEvent(ctx, eventPayload("uuid-1", "answered")); err != nil {
		t.Fatalf("second: %v", err)
	}
	// Exact replay of the second delivery.
	if err := ing.HandleEvent(ctx, eventPayload("uuid-1", "answered")); err != nil {
		t.Fatalf("replay: %v", err)
	}

	calls, err := repo.ListCalls(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected exactly one call row, got %d", len(calls))
	}
	if calls[0].Status != "answered" {
		t.Fatalf("status should equal last delivery, got %q", calls[0].Status)
	}

	evs, err := repo.EventsByCallID(ctx, calls[0].ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("event log must keep every delivery, got %d", len(evs))
	}
}

func TestHandleEventBareStringEndpoints(t *testing.T) {
	repo := NewMemoryRepo()
	ing := NewIngestor(repo, slog.Default())
	ctx := context.Background()

	payload := eventPayload("uuid-2", "started")
	payload["from"] = "+390000"
	payload["to"] = "+391234"

	if err := ing.HandleEvent(ctx, payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	call, _ := repo.FindCallByUUID(ctx, "uuid-2")
	if call.FromNumber != "+390000" || call.FromType != "" {
		t.Fatalf("bare string from not handled: %+v", call)
	}
	if call.ToNumber != "+391234" {
		t.Fatalf("bare string to not handled: %+v", call)
	}
}

func TestHandleEventRejectsMissingUUID(t *testing.T) {
	ing := NewIngestor(NewMemoryRepo(), slog.Default())
	if err := ing.HandleEvent(context.Background(), map[string]any{"status": "x"}); err == nil {
		t.Fatalf("expected error for missing uuid")
	}
}

// appendFailRepo forces the event append to fail while keeping the
// in-memory rollback semantics of WithinTx.
type appendFailRepo struct {
	*MemoryRepo
}

func (r *appendFailRepo) AppendEvent(ctx context.Context, e CallEvent) error {
	return errors.New("events: append rejected")
}

func (r *appendFailRepo) WithinTx(ctx context.Context, fn func(Repository) error) error {
	return r.MemoryRepo.WithinTx(ctx, func(Repository) error { return fn(r) })
}

func TestHandleEventRollsBackCallOnAppendFailure(t *testing.T) {
	inner := NewMemoryRepo()
	ing := NewIngestor(&appendFailRepo{MemoryRepo: inner}, slog.Default())
	ctx := context.Background()

	if err := ing.HandleEvent(ctx, eventPayload("uuid-rb", "ringing")); err == nil {
		t.Fatal("expected append failure to surface")
	}

	// The call insert must not survive the failed delivery: the provider
	// retries, and the retry has to take the create branch again.
	if _, err := inner.FindCallByUUID(ctx, "uuid-rb"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("call row survived rollback: err = %v", err)
	}
	if events, _ := inner.EventsByCallID(ctx, 1); len(events) != 0 {
		t.Fatalf("events after rollback = %d, want 0", len(events))
	}
}
