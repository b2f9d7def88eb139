package events

import "time"

// Call is the durable record for one provider call leg, keyed by the
// provider-assigned uuid. Created on the first event (or on outbound
// creation) and updated thereafter; status tracks the provider lifecycle
// string as-is.
type Call struct {
	ID               int64  `json:"id" db:"id"`
	UUID             string `json:"uuid" db:"uuid"`
	ConversationUUID string `json:"conversation_uuid" db:"conversation_uuid"`
	Direction        string `json:"direction" db:"direction"`
	Status           string `json:"status" db:"status"`

	FromType   string `json:"from_type,omitempty" db:"from_type"`
	FromNumber string `json:"from_number,omitempty" db:"from_number"`
	ToType     string `json:"to_type,omitempty" db:"to_type"`
	ToNumber   string `json:"to_number,omitempty" db:"to_number"`

	// CRM linkage, carried via the call's custom_data.
	OperatorID *int64 `json:"operator_id,omitempty" db:"operator_id"`
	CampaignID *int64 `json:"campaign_id,omitempty" db:"campaign_id"`
	ContactID  *int64 `json:"contact_id,omitempty" db:"contact_id"`

	EventURL     string `json:"event_url,omitempty" db:"event_url"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// CallEvent is one webhook delivery, stored verbatim next to a few
// normalized columns. Append-only: events are never updated or deleted,
// and redelivery produces a second row on purpose.
type CallEvent struct {
	ID     int64 `json:"id" db:"id"`
	CallID int64 `json:"call_id" db:"call_id"`

	UUID             string `json:"uuid" db:"uuid"`
	ConversationUUID string `json:"conversation_uuid" db:"conversation_uuid"`
	Status           string `json:"status" db:"status"`
	Direction        string `json:"direction" db:"direction"`
	FromNumber       string `json:"from_number,omitempty" db:"from_number"`
	ToNumber         string `json:"to_number,omitempty" db:"to_number"`

	// Timestamp is the provider event time when parseable.
	Timestamp *time.Time `json:"timestamp,omitempty" db:"event_timestamp"`

	// Payload holds the delivery verbatim, as JSON.
	Payload string `json:"payload" db:"payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
