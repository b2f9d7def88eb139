package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"callbridge/internal/events"
	"callbridge/internal/installation"
	"callbridge/internal/vonage"

	"github.com/google/uuid"
)

// Leg lifecycle, driven entirely by webhook callbacks:
//
//	PREPARED          prepare-call stored the customer number
//	OPERATOR_ANSWERED answer webhook parked the operator on hold
//	CUSTOMER_DIALED   customer leg created into the same conversation
//	TERMINATED        both legs hung up (reachable from any state)
//
// The states are surfaced in logs; the stores carry the transitions.
// The bridge itself happens at the provider when the customer joins and
// shows up here only as webhook events in the call's event log.
const (
	StatePrepared         = "PREPARED"
	StateOperatorAnswered = "OPERATOR_ANSWERED"
	StateCustomerDialed   = "CUSTOMER_DIALED"
	StateTerminated       = "TERMINATED"
)

// InstallationAuthority is the slice of the installation service the
// orchestrator needs to build authenticated event URLs.
type InstallationAuthority interface {
	GetOrCreate(ctx context.Context) (installation.Metadata, error)
	GenerateEventURLToken(ctx context.Context, conversationID string) (string, error)
}

// CallStore records the durable side of a dialed customer leg.
// Satisfied by events.Repository.
type CallStore interface {
	InsertCall(ctx context.Context, c events.Call) (events.Call, error)
}

// Options carries the dialing configuration.
type Options struct {
	FromNumber   string
	TestNumber   string
	EventURL     string
	HoldMusicURL string

	// DialDelay is how long after the operator's answer the customer
	// dial fires. The provider must see the operator's conversation join
	// before the customer's join can start the bridge.
	DialDelay time.Duration

	// DialTimeout bounds the background provider call.
	DialTimeout time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.DialDelay <= 0 {
		out.DialDelay = time.Second
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 15 * time.Second
	}
	return out
}

// Service drives the operator-first progressive dialer: the operator leg
// is established and parked on hold first, the customer leg is dialed
// into the same conversation shortly after, and a single hangup request
// tears both legs down.
type Service struct {
	provider      vonage.API
	installations InstallationAuthority
	calls         CallStore
	pending       PendingCalls
	legs          LegLinks
	log           *slog.Logger
	opts          Options
	clock         func() time.Time

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewService(
	provider vonage.API,
	installations InstallationAuthority,
	calls CallStore,
	pending PendingCalls,
	legs LegLinks,
	opts Options,
	log *slog.Logger,
) *Service {
	return &Service{
		provider:      provider,
		installations: installations,
		calls:         calls,
		pending:       pending,
		legs:          legs,
		log:           log,
		opts:          opts.withDefaults(),
		clock:         time.Now,
		quit:          make(chan struct{}),
	}
}

// Close stops scheduling new background dials and waits for in-flight
// ones to finish.
func (s *Service) Close() {
	close(s.quit)
	s.wg.Wait()
}

// PrepareCall registers the customer number the operator is about to
// dial. Called by the client before it initiates its own leg, so the
// number is available when the answer webhook arrives. A second prepare
// for the same operator overwrites the first.
func (s *Service) PrepareCall(ctx context.Context, operatorID, customerNumber string) error {
	if operatorID == "" || customerNumber == "" {
		return fmt.Errorf("orchestrator: operator id and customer number are required")
	}
	if err := s.pending.Put(ctx, operatorID, customerNumber); err != nil {
		return fmt.Errorf("orchestrator: store pending call: %w", err)
	}
	s.log.Info("call prepared", "state", StatePrepared, "operator_id", operatorID)
	return nil
}

// HandleAnswer handles the provider's answer webhook for the operator
// leg. It always returns instructions parking the operator in a fresh
// conversation on hold music without starting it; when a pending
// customer number is found, the customer dial is scheduled off this
// request after a short delay. A repeated answer for the same operator
// finds nothing pending and parks the operator without dialing.
func (s *Service) HandleAnswer(ctx context.Context, params map[string]any) (vonage.NCCO, error) {
	operatorID := extractOperatorID(params)
	operatorLegID := stringParam(params, "uuid")

	conversationName := "call-" + uuid.NewString()
	ncco := vonage.NCCO{
		vonage.ConversationAction(conversationName, false, s.opts.HoldMusicURL),
	}

	if operatorID == "" {
		s.log.Warn("answer webhook without operator identity", "params", params)
		return ncco, nil
	}

	customerNumber, ok, err := s.pending.Take(ctx, operatorID)
	if err != nil {
		s.log.Error("pending call lookup failed", "operator_id", operatorID, "err", err)
		return ncco, nil
	}

	s.log.Info("operator answered",
		"state", StateOperatorAnswered,
		"operator_id", operatorID,
		"operator_leg", operatorLegID,
		"conversation", conversationName,
		"pending_found", ok,
	)

	if ok && operatorLegID != "" {
		s.scheduleCustomerDial(customerNumber, conversationName, operatorLegID)
	} else if ok {
		s.log.Warn("pending call consumed but answer carried no leg uuid", "operator_id", operatorID)
	}

	return ncco, nil
}

// scheduleCustomerDial fires the customer dial after DialDelay, off the
// webhook-handling path. The webhook response cannot wait for it: the
// provider expects an answer within a few seconds, and the operator's
// join must be registered before the customer's join starts the bridge.
// Failures are logged, never surfaced to the webhook.
func (s *Service) scheduleCustomerDial(customerNumber, conversationName, operatorLegID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(s.opts.DialDelay)
		defer timer.Stop()
		select {
		case <-s.quit:
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.DialTimeout)
		defer cancel()

		if _, err := s.DialCustomer(ctx, customerNumber, conversationName, operatorLegID); err != nil {
			s.log.Error("background customer dial failed",
				"conversation", conversationName,
				"operator_leg", operatorLegID,
				"err", err,
			)
		}
	}()
}

// DialCustomer creates the customer leg joining the given conversation.
// The customer joins with the default startOnEnter, so their entry
// starts the conversation and unmutes both directions. On success the
// call is recorded and the operator→customer correlation stored for the
// eventual hangup.
func (s *Service) DialCustomer(ctx context.Context, customerNumber, conversationName, operatorLegID string) (events.Call, error) {
	if customerNumber == "" || conversationName == "" {
		return events.Call{}, fmt.Errorf("orchestrator: customer number and conversation name are required")
	}

	meta, err := s.installations.GetOrCreate(ctx)
	if err != nil {
		return events.Call{}, err
	}
	token, err := s.installations.GenerateEventURLToken(ctx, conversationName)
	if err != nil {
		return events.Call{}, err
	}
	eventURL := s.opts.EventURL +
		"?installation_id=" + url.QueryEscape(meta.InstallationID) +
		"&conversation_uuid=" + url.QueryEscape(conversationName) +
		"&token=" + url.QueryEscape(token)

	resp, err := s.provider.CreateCall(ctx, vonage.CreateCallRequest{
		To:       []vonage.Endpoint{vonage.PhoneEndpoint(customerNumber)},
		From:     vonage.PhoneEndpoint(s.opts.FromNumber),
		NCCO:     vonage.NCCO{vonage.ConversationAction(conversationName, true, "")},
		EventURL: []string{eventURL},
	})
	if err != nil {
		return events.Call{}, err
	}

	record := events.Call{
		UUID:             resp.UUID,
		ConversationUUID: resp.ConversationUUID,
		Direction:        resp.Direction,
		Status:           resp.Status,
		FromType:         "phone",
		FromNumber:       s.opts.FromNumber,
		ToType:           "phone",
		ToNumber:         customerNumber,
		EventURL:         eventURL,
		CreatedAt:        s.clock().UTC(),
	}
	record, err = s.calls.InsertCall(ctx, record)
	if err != nil {
		// The leg exists at the provider either way; losing the row is
		// worse than returning it without an id.
		s.log.Error("customer call not persisted", "uuid", resp.UUID, "err", err)
	}

	if operatorLegID != "" {
		if err := s.legs.Link(ctx, operatorLegID, resp.UUID); err != nil {
			s.log.Error("leg correlation not stored", "operator_leg", operatorLegID, "customer_leg", resp.UUID, "err", err)
		}
	}

	s.log.Info("customer dialed",
		"state", StateCustomerDialed,
		"customer_leg", resp.UUID,
		"operator_leg", operatorLegID,
		"conversation", conversationName,
	)
	return record, nil
}

// Hangup tears down the operator leg and, when a correlation exists, the
// customer leg dialed for it. A missing correlation is not an error: the
// customer may never have been dialed, or a previous hangup already
// consumed it.
func (s *Service) Hangup(ctx context.Context, operatorLegID string) error {
	if operatorLegID == "" {
		return fmt.Errorf("orchestrator: operator leg id is required")
	}

	if err := s.provider.Hangup(ctx, operatorLegID); err != nil {
		return fmt.Errorf("orchestrator: hangup operator leg %s: %w", operatorLegID, err)
	}

	customerLegID, ok, err := s.legs.Take(ctx, operatorLegID)
	if err != nil {
		return fmt.Errorf("orchestrator: leg correlation lookup: %w", err)
	}
	if !ok {
		s.log.Warn("no associated customer leg", "operator_leg", operatorLegID)
		return nil
	}

	if err := s.provider.Hangup(ctx, customerLegID); err != nil {
		// Correlation is already cleared; the customer leg stays
		// orphaned at the provider until its own timeout reclaims it.
		return fmt.Errorf("orchestrator: hangup customer leg %s: %w", customerLegID, err)
	}

	s.log.Info("both legs hung up",
		"state", StateTerminated,
		"operator_leg", operatorLegID,
		"customer_leg", customerLegID,
	)
	return nil
}

// TestCall dials the configured test number with a short spoken message.
// System-level verification that the voice pipeline works end to end.
func (s *Service) TestCall(ctx context.Context) (events.Call, error) {
	if s.opts.TestNumber == "" {
		return events.Call{}, fmt.Errorf("orchestrator: test number not configured")
	}

	meta, err := s.installations.GetOrCreate(ctx)
	if err != nil {
		return events.Call{}, err
	}
	token, err := s.installations.GenerateEventURLToken(ctx, "test")
	if err != nil {
		return events.Call{}, err
	}
	eventURL := s.opts.EventURL +
		"?installation_id=" + url.QueryEscape(meta.InstallationID) +
		"&token=" + url.QueryEscape(token)

	resp, err := s.provider.CreateCall(ctx, vonage.CreateCallRequest{
		To:       []vonage.Endpoint{vonage.PhoneEndpoint(s.opts.TestNumber)},
		From:     vonage.PhoneEndpoint(s.opts.FromNumber),
		NCCO:     vonage.NCCO{vonage.TalkAction("Welcome. This is a test call from the CRM.", "en-GB")},
		EventURL: []string{eventURL},
	})
	if err != nil {
		return events.Call{}, err
	}

	record := events.Call{
		UUID:             resp.UUID,
		ConversationUUID: resp.ConversationUUID,
		Direction:        resp.Direction,
		Status:           resp.Status,
		FromType:         "phone",
		FromNumber:       s.opts.FromNumber,
		ToType:           "phone",
		ToNumber:         s.opts.TestNumber,
		EventURL:         eventURL,
		CreatedAt:        s.clock().UTC(),
	}
	record, err = s.calls.InsertCall(ctx, record)
	if err != nil {
		s.log.Error("test call not persisted", "uuid", resp.UUID, "err", err)
	}
	return record, nil
}

// extractOperatorID pulls the operator identity out of the answer
// webhook. The provider uses different fields depending on how the leg
// was initiated: from_user for client SDK server calls, then to,
// user_id and from as fallbacks.
func extractOperatorID(params map[string]any) string {
	for _, key := range []string{"from_user", "to", "user_id", "from"} {
		if v := stringParam(params, key); v != "" {
			return v
		}
	}
	return ""
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
