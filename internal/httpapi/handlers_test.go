package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"callbridge/internal/events"
	"callbridge/internal/installation"
	"callbridge/internal/orchestrator"
	"callbridge/internal/vonage"

	"github.com/gin-gonic/gin"
)

type stubProvider struct {
	hungUp []string
}

func (p *stubProvider) CreateCall(ctx context.Context, req vonage.CreateCallRequest) (vonage.CreateCallResponse, error) {
	return vonage.CreateCallResponse{UUID: "cust-leg-1", Status: "started", Direction: "outbound", ConversationUUID: "CON-1"}, nil
}

func (p *stubProvider) Hangup(ctx context.Context, callUUID string) error {
	p.hungUp = append(p.hungUp, callUUID)
	return nil
}

func testPrivateKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

type fixture struct {
	router        *gin.Engine
	installations *installation.Service
	provider      *stubProvider
	calls         *events.MemoryRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	provider := &stubProvider{}
	calls := events.NewMemoryRepo()
	installations := installation.NewService(installation.NewMemoryRepo(), slog.Default())
	orch := orchestrator.NewService(
		provider,
		installations,
		calls,
		orchestrator.NewMemoryPendingCalls(),
		orchestrator.NewMemoryLegLinks(),
		orchestrator.Options{
			FromNumber:   "+390200000000",
			TestNumber:   "+393330000000",
			EventURL:     "https://crm.example.com/voice/webhook/event",
			HoldMusicURL: "https://crm.example.com/hold.mp3",
			DialDelay:    time.Millisecond,
		},
		slog.Default(),
	)
	t.Cleanup(orch.Close)

	signer, err := vonage.NewSigner("app-id", testPrivateKeyPEM(t), "")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	h := Handlers{
		Installations: installations,
		Orchestrator:  orch,
		Ingestor:      events.NewIngestor(calls, slog.Default()),
		Tokens:        signer,
	}

	r := gin.New()
	voice := r.Group("/voice")
	voice.POST("/prepare-call", h.PrepareCall)
	voice.POST("/trigger-customer-call", h.TriggerCustomerCall)
	voice.PUT("/calls/:uuid/hangup", h.Hangup)
	voice.POST("/test-call", h.TestCall)
	voice.GET("/sdk-token", h.SDKToken)
	voice.POST("/answer", h.Answer)
	voice.POST("/webhook/event", h.WebhookEvent)
	voice.GET("/calls", h.ListCalls)
	voice.GET("/calls/:uuid", h.GetCall)
	voice.GET("/calls/:uuid/events", h.GetCallEvents)

	return &fixture{router: r, installations: installations, provider: provider, calls: calls}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestPrepareCallEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/voice/prepare-call", `{"userId":"op-1","customerNumber":"+393331234567"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["message"] == "" {
		t.Fatalf("body = %v", body)
	}

	w = f.do(t, http.MethodPost, "/voice/prepare-call", `{"userId":"op-1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing customerNumber: status = %d", w.Code)
	}
}

func TestAnswerEndpointReturnsNCCO(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/voice/answer", `{"from_user":"op-1","uuid":"op-leg-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var ncco []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &ncco); err != nil {
		t.Fatalf("response is not an action array: %s", w.Body.String())
	}
	if len(ncco) != 1 || ncco[0]["action"] != "conversation" {
		t.Fatalf("ncco = %v", ncco)
	}
	if ncco[0]["startOnEnter"] != false {
		t.Fatalf("operator action must carry startOnEnter=false, got %v", ncco[0])
	}
}

func TestTriggerCustomerCallEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/voice/trigger-customer-call", `{"customerNumber":"+393331234567","conversationName":"call-abc","operatorCallUuid":"op-leg-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/voice/trigger-customer-call", `{"customerNumber":"+393331234567"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing conversationName: status = %d", w.Code)
	}
}

func TestHangupEndpointTearsDownBothLegs(t *testing.T) {
	f := newFixture(t)

	// Dial first so the correlation exists.
	w := f.do(t, http.MethodPost, "/voice/trigger-customer-call", `{"customerNumber":"+393331234567","conversationName":"call-abc","operatorCallUuid":"op-leg-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("trigger status = %d", w.Code)
	}

	w = f.do(t, http.MethodPut, "/voice/calls/op-leg-1/hangup", "")
	if w.Code != http.StatusOK {
		t.Fatalf("hangup status = %d, body %s", w.Code, w.Body.String())
	}
	if len(f.provider.hungUp) != 2 {
		t.Fatalf("hangups = %v, want operator and customer", f.provider.hungUp)
	}
}

func TestSDKTokenEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/voice/sdk-token?userId=op-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["token"] == nil || body["token"] == "" {
		t.Fatalf("body = %v", body)
	}

	// Missing user: legacy envelope, still HTTP 200.
	w = f.do(t, http.MethodGet, "/voice/sdk-token", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["err"] != true || body["log"] == "" {
		t.Fatalf("body = %v", body)
	}
}

func TestWebhookEventRejectsInvalidToken(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/voice/webhook/event?installation_id=inst_x&token=garbage", `{"uuid":"leg-1","status":"answered"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with legacy envelope", w.Code)
	}
	body := decodeBody(t, w)
	if body["err"] != true || body["log"] != "Invalid token" {
		t.Fatalf("body = %v", body)
	}
	if _, err := f.calls.FindCallByUUID(context.Background(), "leg-1"); err == nil {
		t.Fatal("payload must not be ingested on token failure")
	}
}

func TestWebhookEventIngestsWithValidToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	meta, err := f.installations.GetOrCreate(ctx)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	token, err := f.installations.GenerateEventURLToken(ctx, "call-abc")
	if err != nil {
		t.Fatalf("GenerateEventURLToken: %v", err)
	}

	path := "/voice/webhook/event?installation_id=" + url.QueryEscape(meta.InstallationID) + "&token=" + url.QueryEscape(token)
	w := f.do(t, http.MethodPost, path, `{"uuid":"leg-1","status":"ringing","direction":"outbound","from":{"type":"phone","number":"+3902"},"to":{"type":"phone","number":"+39333"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["err"] != false {
		t.Fatalf("body = %v", body)
	}

	call, err := f.calls.FindCallByUUID(ctx, "leg-1")
	if err != nil {
		t.Fatalf("call not ingested: %v", err)
	}
	if call.Status != "ringing" {
		t.Fatalf("status = %q", call.Status)
	}
}

func TestCallRecordEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/voice/trigger-customer-call", `{"customerNumber":"+393331234567","conversationName":"call-abc"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("trigger status = %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/voice/calls", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list []events.Call
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list = %s (err %v)", w.Body.String(), err)
	}

	w = f.do(t, http.MethodGet, "/voice/calls/cust-leg-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/voice/calls/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing call status = %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/voice/calls/cust-leg-1/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("events status = %d", w.Code)
	}
}
