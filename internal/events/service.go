package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Ingestor persists inbound provider webhook events.
//
// Deliveries are at-least-once and unordered. The Call row is upserted by
// provider uuid (create on first sight, status-only update afterwards) so
// replays are idempotent on the Call; the event log is append-only and
// intentionally records every delivery, duplicates included.
type Ingestor struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewIngestor(repo Repository, log *slog.Logger) *Ingestor {
	return &Ingestor{repo: repo, log: log, clock: time.Now}
}

// HandleEvent ingests one webhook payload.
func (s *Ingestor) HandleEvent(ctx context.Context, payload map[string]any) error {
	uuid := stringField(payload, "uuid")
	if uuid == "" {
		return fmt.Errorf("events: payload missing uuid")
	}
	status := stringField(payload, "status")

	// One transaction per delivery: the Call row and its event append
	// land together or not at all, so a retried delivery never finds a
	// Call with no event behind it.
	return s.repo.WithinTx(ctx, func(repo Repository) error {
		call, err := repo.FindCallByUUID(ctx, uuid)
		switch {
		case err == nil:
			if err := repo.UpdateCallStatus(ctx, uuid, status); err != nil {
				return fmt.Errorf("events: update call %s: %w", uuid, err)
			}

		case errors.Is(err, ErrNotFound):
			call, err = repo.InsertCall(ctx, s.callFromPayload(uuid, status, payload))
			if err != nil {
				return fmt.Errorf("events: insert call %s: %w", uuid, err)
			}
			s.log.Info("call created from event", "uuid", uuid, "status", status)

		default:
			return fmt.Errorf("events: lookup call %s: %w", uuid, err)
		}

		if err := repo.AppendEvent(ctx, s.eventFromPayload(call.ID, payload)); err != nil {
			return fmt.Errorf("events: append event for call %s: %w", uuid, err)
		}
		return nil
	})
}

// CallByUUID returns the durable record for one provider call.
func (s *Ingestor) CallByUUID(ctx context.Context, uuid string) (Call, error) {
	return s.repo.FindCallByUUID(ctx, uuid)
}

// ListCalls returns all durable call records.
func (s *Ingestor) ListCalls(ctx context.Context) ([]Call, error) {
	return s.repo.ListCalls(ctx)
}

// EventsForCall returns the append-only event log for one call.
func (s *Ingestor) EventsForCall(ctx context.Context, callID int64) ([]CallEvent, error) {
	return s.repo.EventsByCallID(ctx, callID)
}

func (s *Ingestor) callFromPayload(uuid, status string, payload map[string]any) Call {
	c := Call{
		UUID:             uuid,
		ConversationUUID: stringField(payload, "conversation_uuid"),
		Direction:        stringField(payload, "direction"),
		Status:           status,
		CreatedAt:        s.clock().UTC(),
	}
	c.FromType, c.FromNumber = endpointField(payload, "from")
	c.ToType, c.ToNumber = endpointField(payload, "to")

	// custom_data is echoed back verbatim from call creation and carries
	// CRM linkage when present.
	if cd, ok := payload["custom_data"].(map[string]any); ok {
		c.OperatorID = int64Field(cd, "operator_id")
		c.CampaignID = int64Field(cd, "campaign_id")
		c.ContactID = int64Field(cd, "contact_id")
	}
	return c
}

func (s *Ingestor) eventFromPayload(callID int64, payload map[string]any) CallEvent {
	e := CallEvent{
		CallID:           callID,
		UUID:             stringField(payload, "uuid"),
		ConversationUUID: stringField(payload, "conversation_uuid"),
		Status:           stringField(payload, "status"),
		Direction:        stringField(payload, "direction"),
		CreatedAt:        s.clock().UTC(),
	}
	_, e.FromNumber = endpointField(payload, "from")
	_, e.ToNumber = endpointField(payload, "to")

	if ts := stringField(payload, "timestamp"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			utc := parsed.UTC()
			e.Timestamp = &utc
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		// Payload came off the wire as JSON; re-encoding cannot normally
		// fail, but the event row must still be written.
		s.log.Error("event payload re-encode failed", "call_id", callID, "err", err)
		raw = []byte("{}")
	}
	e.Payload = string(raw)
	return e
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// endpointField tolerates both payload shapes the provider emits:
// an object {type, number} or a bare string number.
func endpointField(m map[string]any, key string) (typ, number string) {
	switch v := m[key].(type) {
	case map[string]any:
		return stringField(v, "type"), stringField(v, "number")
	case string:
		return "", v
	default:
		return "", ""
	}
}

func int64Field(m map[string]any, key string) *int64 {
	if v, ok := m[key].(float64); ok {
		n := int64(v)
		return &n
	}
	return nil
}
