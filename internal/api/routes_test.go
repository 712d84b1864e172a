package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apimodels "github.com/artempl88/sozdaibota-sub000/internal/api/models"
	"github.com/artempl88/sozdaibota-sub000/internal/auth"
	"github.com/artempl88/sozdaibota-sub000/internal/config"
	"github.com/artempl88/sozdaibota-sub000/internal/llm"
	"github.com/artempl88/sozdaibota-sub000/internal/logging"
	"github.com/artempl88/sozdaibota-sub000/internal/metrics"
	"github.com/artempl88/sozdaibota-sub000/internal/models"
	"github.com/artempl88/sozdaibota-sub000/internal/notify"
	"github.com/artempl88/sozdaibota-sub000/internal/repository/memory"
	"github.com/artempl88/sozdaibota-sub000/internal/services"
)

const (
	testAdminKey = "test-admin-key-0123456789"
	chatFallback = "Какие функции нужны в первую очередь?"
)

var (
	adminHashOnce sync.Once
	adminHash     string
)

func testAdminHash(t *testing.T) string {
	t.Helper()
	adminHashOnce.Do(func() {
		h, err := auth.HashAdminKey(testAdminKey)
		require.NoError(t, err)
		adminHash = h
	})
	return adminHash
}

type testServer struct {
	app  *fiber.App
	svc  *services.Services
	stub *llm.StubProvider
	jwt  *auth.JWTService
}

type nopNotifier struct{}

func (nopNotifier) SendReview(context.Context, notify.Review) error { return nil }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.Retry = config.RetryConfig{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxRetries: 0}

	stub := llm.NewStubProvider(chatFallback)
	svc, err := services.NewServices(cfg, services.Repositories{
		Sessions: memory.NewSessionRepository(),
		Audit:    memory.NewAuditLogRepository(),
	}, stub, nopNotifier{}, metrics.NewPrometheusRecorder(), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	jwtService := auth.NewJWTService("test-secret", "sozdaibota", time.Hour)
	app := NewApp(Deps{
		Services:     svc,
		JWT:          jwtService,
		AdminKeyHash: testAdminHash(t),
		CORSOrigins:  "*",
		Logger:       logging.Discard(),
	})
	return &testServer{app: app, svc: svc, stub: stub, jwt: jwtService}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func adminHeaders() map[string]string {
	return map[string]string{"X-Admin-Key": testAdminKey}
}

func validIntake() apimodels.IntakeRequest {
	return apimodels.IntakeRequest{
		Name:            "Олег",
		Role:            "владелец",
		Industry:        "e-commerce",
		Budget:          string(models.Budget50to100k),
		Timeline:        string(models.TimelineMonth),
		ContactChannels: []string{string(models.ContactTelegram)},
		ContactDetails:  "@oleg",
	}
}

func (s *testServer) openSession(t *testing.T) apimodels.IntakeResponse {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/v1/sessions", validIntake(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var out apimodels.IntakeResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")
}

func TestSubmitIntake(t *testing.T) {
	s := newTestServer(t)

	out := s.openSession(t)
	assert.NotEmpty(t, out.SessionID)
	assert.Contains(t, out.Welcome, "Олег")
	assert.Greater(t, out.LeadScore, 0.0)

	claims, err := s.jwt.ValidateSessionToken(out.Token)
	require.NoError(t, err)
	assert.Equal(t, out.SessionID, claims.SessionID)
}

func TestSubmitIntake_Invalid(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	bad := validIntake()
	bad.Name = ""
	bad.Flow = "chaotic"
	resp2, body := s.do(t, http.MethodPost, "/api/v1/sessions", bad, nil)
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	var out struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Contains(t, out.Fields, "name")
	assert.Contains(t, out.Fields, "flow")
}

func TestPostMessage_Auth(t *testing.T) {
	s := newTestServer(t)
	a := s.openSession(t)
	b := s.openSession(t)

	path := "/api/v1/sessions/" + a.SessionID + "/messages"
	msg := apimodels.MessageRequest{Text: "Привет"}

	resp, _ := s.do(t, http.MethodPost, path, msg, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, path, msg, bearer("garbage"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, path, msg, bearer(b.Token))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, path, msg, bearer(a.Token))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out apimodels.MessageResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, chatFallback, out.Reply)
	assert.False(t, out.HasEstimate)
	assert.Equal(t, "chatting", out.Status)
}

func TestPostMessage_Validation(t *testing.T) {
	s := newTestServer(t)
	a := s.openSession(t)

	resp, body := s.do(t, http.MethodPost, "/api/v1/sessions/"+a.SessionID+"/messages",
		apimodels.MessageRequest{Text: "   "}, bearer(a.Token))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "text")
}

func TestGetHistory(t *testing.T) {
	s := newTestServer(t)
	a := s.openSession(t)

	s.do(t, http.MethodPost, "/api/v1/sessions/"+a.SessionID+"/messages",
		apimodels.MessageRequest{Text: "Нужен бот для записи"}, bearer(a.Token))

	resp, body := s.do(t, http.MethodGet, "/api/v1/sessions/"+a.SessionID+"/history", nil, bearer(a.Token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out apimodels.HistoryResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Turns, 4)
	assert.Equal(t, "Нужен бот для записи", out.Turns[2].Content)
	assert.Equal(t, "client", out.Turns[2].Role)
	assert.Equal(t, "Олег", out.Profile.Name)
}

func TestAdmin_RequiresKey(t *testing.T) {
	s := newTestServer(t)
	a := s.openSession(t)

	resp, _ := s.do(t, http.MethodGet, "/api/v1/admin/sessions/"+a.SessionID, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/admin/sessions/"+a.SessionID, nil,
		map[string]string{"X-Admin-Key": "wrong-key-wrong-key"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/admin/sessions/"+a.SessionID, nil, bearer(testAdminKey))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/admin/sessions/missing", nil, adminHeaders())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdmin_ReviewFlow(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	a := s.openSession(t)

	s.stub.EnqueueFor("estimate", llm.StubReply{Err: &llm.StatusError{Code: 503}})
	_, err := s.svc.Workflow.RequestReview(ctx, a.SessionID)
	require.NoError(t, err)

	resp, body := s.do(t, http.MethodGet, "/api/v1/admin/sessions/"+a.SessionID, nil, adminHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var session models.Session
	require.NoError(t, json.Unmarshal(body, &session))
	require.NotNil(t, session.EstimatePayload)
	assert.Equal(t, models.ReviewPending, session.ReviewStatus)
	estimateID := session.EstimatePayload.ID

	edit := map[string]interface{}{
		"estimate_id": estimateID,
		"components": []map[string]interface{}{
			{"name": "Каталог", "hours": 20},
			{"name": "Оплата", "hours": 15},
		},
		"timeline": "3 недели",
	}
	resp, body = s.do(t, http.MethodPut, "/api/v1/admin/sessions/"+a.SessionID+"/estimate", edit, adminHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var edited models.Estimate
	require.NoError(t, json.Unmarshal(body, &edited))
	assert.Equal(t, 70000.0, edited.TotalCost)
	assert.Equal(t, models.GeneratedByReviewer, edited.Metadata.GeneratedBy)

	edit["estimate_id"] = "stale"
	resp, _ = s.do(t, http.MethodPut, "/api/v1/admin/sessions/"+a.SessionID+"/estimate", edit, adminHeaders())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/admin/sessions/"+a.SessionID+"/decision",
		apimodels.DecisionRequest{Action: "maybe", EstimateID: estimateID}, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/api/v1/admin/sessions/"+a.SessionID+"/decision",
		apimodels.DecisionRequest{Action: "approve", EstimateID: estimateID}, adminHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "message")

	resp, body = s.do(t, http.MethodPost, "/api/v1/admin/sessions/"+a.SessionID+"/decision",
		apimodels.DecisionRequest{Action: "edit", EstimateID: "000000000000"}, adminHeaders())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "неактуальна")

	// The next client message carries the approved estimate exactly once
	resp, body = s.do(t, http.MethodPost, "/api/v1/sessions/"+a.SessionID+"/messages",
		apimodels.MessageRequest{Text: "Ну что там?"}, bearer(a.Token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msg apimodels.MessageResponse
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Contains(t, msg.ApprovedEstimate, "Каталог")

	resp, body = s.do(t, http.MethodPost, "/api/v1/sessions/"+a.SessionID+"/messages",
		apimodels.MessageRequest{Text: "Спасибо"}, bearer(a.Token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msg = apimodels.MessageResponse{}
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Empty(t, msg.ApprovedEstimate)

	resp, body = s.do(t, http.MethodGet, "/api/v1/admin/sessions/"+a.SessionID+"/audit", nil, adminHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, want := range []string{"session.create", "estimate.requested", "estimate.edited", "estimate.approved", "estimate.delivered"} {
		assert.Contains(t, string(body), want)
	}
}

func TestTelegramWebhook_DisabledWithoutBot(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(t, http.MethodPost, "/api/v1/telegram/webhook", map[string]string{}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocket_RequiresUpgrade(t *testing.T) {
	s := newTestServer(t)
	a := s.openSession(t)
	resp, _ := s.do(t, http.MethodGet, "/ws/sessions/"+a.SessionID+"?token="+a.Token, nil, nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	s.openSession(t)
	resp, _ := s.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
