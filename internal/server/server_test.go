package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abiah-ai/usagegate/internal/config"
	entitlementdomain "github.com/abiah-ai/usagegate/internal/entitlement/domain"
	ingestdomain "github.com/abiah-ai/usagegate/internal/ingest/domain"
	ledgerdomain "github.com/abiah-ai/usagegate/internal/ledger/domain"
	"github.com/abiah-ai/usagegate/internal/liveevents"
	tierdomain "github.com/abiah-ai/usagegate/internal/tier/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type ingestMock struct {
	mock.Mock
}

func (m *ingestMock) HandleDelivery(ctx context.Context, body []byte, header http.Header) (ingestdomain.Outcome, error) {
	args := m.Called(ctx, body, header)
	return args.Get(0).(ingestdomain.Outcome), args.Error(1)
}

func (m *ingestMock) Register(ctx context.Context, req ingestdomain.RegisterRequest) (ingestdomain.ConversationRegistration, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ingestdomain.ConversationRegistration), args.Error(1)
}

type entitlementMock struct {
	mock.Mock
}

func (m *entitlementMock) Evaluate(ctx context.Context, req entitlementdomain.Request) (entitlementdomain.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(entitlementdomain.Result), args.Error(1)
}

type tierMock struct {
	mock.Mock
}

func (m *tierMock) GetByID(ctx context.Context, tierID string) (tierdomain.TierDefinition, error) {
	args := m.Called(ctx, tierID)
	return args.Get(0).(tierdomain.TierDefinition), args.Error(1)
}

func (m *tierMock) List(ctx context.Context) ([]tierdomain.TierDefinition, error) {
	args := m.Called(ctx)
	return args.Get(0).([]tierdomain.TierDefinition), args.Error(1)
}

func (m *tierMock) NextTier(ctx context.Context, tierID string) (*tierdomain.TierDefinition, error) {
	args := m.Called(ctx, tierID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tierdomain.TierDefinition), args.Error(1)
}

type testServer struct {
	engine      *gin.Engine
	ingest      *ingestMock
	entitlement *entitlementMock
	tier        *tierMock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	ts := &testServer{
		engine:      engine,
		ingest:      &ingestMock{},
		entitlement: &entitlementMock{},
		tier:        &tierMock{},
	}
	NewServer(ServerParams{
		Gin:            engine,
		Cfg:            config.Config{},
		TierSvc:        ts.tier,
		IngestSvc:      ts.ingest,
		EntitlementSvc: ts.entitlement,
	})
	return ts
}

func (ts *testServer) do(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func errorType(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error.Type
}

func TestConversationWebhookPreflight(t *testing.T) {
	ts := newTestServer(t)

	header := http.Header{}
	header.Set("Origin", "https://tavus.io")
	w := ts.do(http.MethodOptions, "/api/webhooks/conversation", nil, header)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://tavus.io", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Webhook-Signature")
}

func TestHandleConversationWebhook(t *testing.T) {
	t.Run("processed delivery", func(t *testing.T) {
		ts := newTestServer(t)
		ts.ingest.On("HandleDelivery", mock.Anything, mock.Anything, mock.Anything).Return(ingestdomain.Outcome{
			Kind:           ingestdomain.KindSessionJoined,
			Status:         ingestdomain.StatusProcessed,
			ConversationID: "conv-1",
			SubscriberID:   "user-1",
		}, nil)

		w := ts.do(http.MethodPost, "/api/webhooks/conversation", map[string]any{
			"conversation_id": "conv-1",
			"event_type":      "system.replica_joined",
		}, nil)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["success"])
		assert.Equal(t, "session_joined", resp["event_kind"])
		assert.Equal(t, "processed", resp["status"])
		assert.Equal(t, "conv-1", resp["conversation_id"])
	})

	t.Run("rejected signature maps to 401", func(t *testing.T) {
		ts := newTestServer(t)
		ts.ingest.On("HandleDelivery", mock.Anything, mock.Anything, mock.Anything).
			Return(ingestdomain.Outcome{}, ingestdomain.ErrInvalidSignature)

		w := ts.do(http.MethodPost, "/api/webhooks/conversation", map[string]any{"conversation_id": "c"}, nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "unauthorized", errorType(t, w))
	})

	t.Run("disallowed origin maps to 403", func(t *testing.T) {
		ts := newTestServer(t)
		ts.ingest.On("HandleDelivery", mock.Anything, mock.Anything, mock.Anything).
			Return(ingestdomain.Outcome{}, ingestdomain.ErrOriginNotAllowed)

		w := ts.do(http.MethodPost, "/api/webhooks/conversation", map[string]any{"conversation_id": "c"}, nil)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "forbidden", errorType(t, w))
	})

	t.Run("unknown conversation maps to 404", func(t *testing.T) {
		ts := newTestServer(t)
		ts.ingest.On("HandleDelivery", mock.Anything, mock.Anything, mock.Anything).
			Return(ingestdomain.Outcome{}, ledgerdomain.ErrConversationNotFound)

		w := ts.do(http.MethodPost, "/api/webhooks/conversation", map[string]any{"conversation_id": "c"}, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "not_found", errorType(t, w))
	})

	t.Run("malformed payload maps to 400", func(t *testing.T) {
		ts := newTestServer(t)
		ts.ingest.On("HandleDelivery", mock.Anything, mock.Anything, mock.Anything).
			Return(ingestdomain.Outcome{}, ingestdomain.ErrInvalidPayload)

		w := ts.do(http.MethodPost, "/api/webhooks/conversation", map[string]any{}, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "validation_error", errorType(t, w))
	})
}

func TestCheckEntitlement(t *testing.T) {
	t.Run("allowed decision passes through", func(t *testing.T) {
		ts := newTestServer(t)
		ts.entitlement.On("Evaluate", mock.Anything, entitlementdomain.Request{
			SubscriberID: "user-1",
			Action:       entitlementdomain.ActionStartConversation,
			Estimate:     entitlementdomain.Estimate{DurationMinutes: 30},
		}).Return(entitlementdomain.Result{
			Allowed:   true,
			TierID:    "foundation",
			Remaining: entitlementdomain.Snapshot{Sessions: 2, Minutes: 45, Documents: 5, Tokens: 50000},
			Warnings:  []entitlementdomain.Warning{},
		}, nil)

		w := ts.do(http.MethodPost, "/api/entitlements/check", map[string]any{
			"user_id":                    "user-1",
			"action_type":                "conversation",
			"estimated_duration_minutes": 30,
		}, nil)

		assert.Equal(t, http.StatusOK, w.Code)

		var result entitlementdomain.Result
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.True(t, result.Allowed)
		assert.Equal(t, "foundation", result.TierID)
		assert.Equal(t, int64(2), result.Remaining.Sessions)
	})

	t.Run("denied decision is still a 200", func(t *testing.T) {
		ts := newTestServer(t)
		ts.entitlement.On("Evaluate", mock.Anything, mock.Anything).Return(entitlementdomain.Result{
			Allowed:         false,
			Reason:          entitlementdomain.ReasonSessionsExceeded,
			UpgradeRequired: true,
			Warnings:        []entitlementdomain.Warning{},
		}, nil)

		w := ts.do(http.MethodPost, "/api/entitlements/check", map[string]any{
			"user_id":     "user-1",
			"action_type": "conversation",
		}, nil)

		assert.Equal(t, http.StatusOK, w.Code)

		var result entitlementdomain.Result
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.False(t, result.Allowed)
		assert.Equal(t, entitlementdomain.ReasonSessionsExceeded, result.Reason)
		assert.True(t, result.UpgradeRequired)
	})

	t.Run("missing user_id rejected", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(http.MethodPost, "/api/entitlements/check", map[string]any{
			"action_type": "conversation",
		}, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		ts.entitlement.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)
	})

	t.Run("unknown action rejected", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(http.MethodPost, "/api/entitlements/check", map[string]any{
			"user_id":     "user-1",
			"action_type": "teleportation",
		}, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		ts.entitlement.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)
	})
}

func TestRegisterConversation(t *testing.T) {
	t.Run("registration round trip", func(t *testing.T) {
		ts := newTestServer(t)
		registered := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
		ts.ingest.On("Register", mock.Anything, ingestdomain.RegisterRequest{
			ConversationID: "conv-1",
			SubscriberID:   "user-1",
		}).Return(ingestdomain.ConversationRegistration{
			ConversationID: "conv-1",
			SubscriberID:   "user-1",
			CreatedAt:      registered,
		}, nil)

		w := ts.do(http.MethodPost, "/api/conversations", map[string]any{
			"conversation_id": "conv-1",
			"user_id":         "user-1",
		}, nil)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "conv-1", resp["conversation_id"])
		assert.Equal(t, "user-1", resp["user_id"])
	})

	t.Run("missing fields rejected by binding", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(http.MethodPost, "/api/conversations", map[string]any{
			"conversation_id": "conv-1",
		}, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		ts.ingest.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
	})
}

func TestStreamUsageLiveEvents(t *testing.T) {
	t.Run("streams backlog and live events", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		engine := gin.New()
		engine.Use(ErrorHandlingMiddleware())
		hub := liveevents.NewHub()
		NewServer(ServerParams{Gin: engine, Cfg: config.Config{}, LiveUsageEvents: hub})

		// Keep the stream alive so the first event is retained as backlog
		// for the handler's subscription.
		keeper, _, err := hub.Subscribe("user-1")
		assert.NoError(t, err)
		defer keeper.Close()

		hub.Publish("user-1", liveevents.LiveEvent{
			Kind:           liveevents.KindUsageUpdated,
			SubscriberID:   "user-1",
			ConversationID: "conv-1",
			Payload:        map[string]any{"sessions_used": 1},
			OccurredAt:     "2026-03-10T09:00:00Z",
		})

		ctx, cancel := context.WithCancel(context.Background())
		req := httptest.NewRequest(http.MethodGet, "/api/usage/live?user_id=user-1", nil).WithContext(ctx)
		w := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			engine.ServeHTTP(w, req)
			close(done)
		}()

		time.Sleep(50 * time.Millisecond)
		hub.Publish("user-1", liveevents.LiveEvent{
			Kind:           liveevents.KindConversationCompleted,
			SubscriberID:   "user-1",
			ConversationID: "conv-2",
			OccurredAt:     "2026-03-10T09:25:00Z",
		})
		time.Sleep(50 * time.Millisecond)
		cancel()
		<-done

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

		body := w.Body.String()
		assert.Contains(t, body, "retry: 2000")
		assert.Contains(t, body, `data: {"kind":"usage.updated"`)
		assert.Contains(t, body, `"conversation_id":"conv-1"`)
		assert.Contains(t, body, `"kind":"conversation.completed"`)
		assert.Contains(t, body, `"conversation_id":"conv-2"`)
	})

	t.Run("missing user_id rejected", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		engine := gin.New()
		engine.Use(ErrorHandlingMiddleware())
		NewServer(ServerParams{Gin: engine, Cfg: config.Config{}, LiveUsageEvents: liveevents.NewHub()})

		req := httptest.NewRequest(http.MethodGet, "/api/usage/live", nil)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no hub answers 503", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(http.MethodGet, "/api/usage/live?user_id=user-1", nil, nil)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "service_unavailable", errorType(t, w))
	})
}

func TestListTiers(t *testing.T) {
	ts := newTestServer(t)
	ts.tier.On("List", mock.Anything).Return([]tierdomain.TierDefinition{
		{ID: "foundation", DisplayName: "Foundation", Rank: 1},
		{ID: "growth", DisplayName: "Growth", Rank: 2},
	}, nil)

	w := ts.do(http.MethodGet, "/api/tiers", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Tiers []tierdomain.TierDefinition `json:"tiers"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Tiers, 2)
	assert.Equal(t, "foundation", resp.Tiers[0].ID)
}