package vonage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CreateCallRequest is the provider call-creation payload.
// CustomData is echoed back verbatim in every webhook for the call and
// carries CRM linkage (operator/campaign/contact ids) here.
type CreateCallRequest struct {
	To         []Endpoint     `json:"to"`
	From       Endpoint       `json:"from"`
	NCCO       NCCO           `json:"ncco"`
	EventURL   []string       `json:"event_url,omitempty"`
	CustomData map[string]any `json:"custom_data,omitempty"`
}

// CreateCallResponse is the provider's answer to a call creation.
type CreateCallResponse struct {
	UUID             string `json:"uuid"`
	Status           string `json:"status"`
	Direction        string `json:"direction"`
	ConversationUUID string `json:"conversation_uuid"`
}

// API is the provider surface the orchestrator depends on.
// Kept provider-agnostic so tests can substitute a fake.
type API interface {
	CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResponse, error)
	Hangup(ctx context.Context, callUUID string) error
}

// Client talks to the provider's voice REST API. Calls are synchronous,
// bounded by the HTTP client timeout, and never retried; failures carry
// the provider's error text up to the caller.
type Client struct {
	baseURL    string
	signer     *Signer
	httpClient *http.Client
}

func NewClient(baseURL string, signer *Signer) *Client {
	return &Client{
		baseURL:    baseURL,
		signer:     signer,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateCall issues POST {base} creating a new outbound leg.
func (c *Client) CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResponse, error) {
	var out CreateCallResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL, req, &out); err != nil {
		return CreateCallResponse{}, err
	}
	if out.UUID == "" {
		return CreateCallResponse{}, fmt.Errorf("vonage: create call: response missing uuid")
	}
	return out, nil
}

// Hangup issues PUT {base}/{uuid} with a hangup action.
func (c *Client) Hangup(ctx context.Context, callUUID string) error {
	if callUUID == "" {
		return fmt.Errorf("vonage: hangup: call uuid is required")
	}
	body := map[string]string{"action": "hangup"}
	return c.do(ctx, http.MethodPut, c.baseURL+"/"+callUUID, body, nil)
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("vonage: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("vonage: build request: %w", err)
	}

	token, err := c.signer.APIToken()
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vonage: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("vonage: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("vonage: %s %s: status %d: %s", method, url, resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("vonage: decode response: %w", err)
		}
	}
	return nil
}
