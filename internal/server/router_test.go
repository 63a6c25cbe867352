package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"diet-bot/internal/assistant"
	"diet-bot/internal/db"
	"diet-bot/internal/gpt"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
)

type stubGenerator struct {
	reply string
	err   error
}

func (s *stubGenerator) Generate(context.Context, []gpt.Message, float32) (string, error) {
	return s.reply, s.err
}

type stubAnalyzer struct {
	doc gpt.Analysis
}

func (s *stubAnalyzer) AnalyzeImage(context.Context, string, string) (gpt.Analysis, error) {
	return s.doc, nil
}

type stubTranscriber struct {
	audio []byte
}

func (s *stubTranscriber) Transcribe(_ context.Context, audio []byte, _ string) (string, error) {
	s.audio = audio
	return "Сколько калорий в яблоке?", nil
}

type stubPayments struct {
	event      stripe.Event
	verifyErr  error
	checkedOut string
}

func (s *stubPayments) CreateCheckoutSession(userID, _, _ string) (string, string, error) {
	s.checkedOut = userID
	return "cs_test", "https://checkout.stripe.test/cs_test", nil
}

func (s *stubPayments) VerifyWebhookSignature([]byte, string) (stripe.Event, error) {
	return s.event, s.verifyErr
}

type testServer struct {
	router      http.Handler
	service     *assistant.Service
	store       db.Store
	generator   *stubGenerator
	transcriber *stubTranscriber
}

func newTestServer(t *testing.T, freeMessages int, payments Payments) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	ts := &testServer{
		store:       store,
		generator:   &stubGenerator{reply: "Ответ ассистента"},
		transcriber: &stubTranscriber{},
	}
	service, err := assistant.NewService(assistant.ServiceConfig{
		Store:     store,
		Generator: ts.generator,
		Analyzer: &stubAnalyzer{doc: gpt.Analysis{
			"items": []interface{}{map[string]interface{}{"name": "Яблоко", "grams": 150.0, "kcal": 78.0}},
			"total": map[string]interface{}{"kcal": 78.0},
		}},
		Transcriber:  ts.transcriber,
		FreeMessages: freeMessages,
		CallTimeout:  time.Second,
	})
	require.NoError(t, err)

	ts.service = service
	ts.router, err = NewRouter(Dependencies{Service: service, Payments: payments})
	require.NoError(t, err)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewRouterRequiresService(t *testing.T) {
	_, err := NewRouter(Dependencies{})
	assert.ErrorIs(t, err, errMissingService)
}

func TestRootHealthAndNotFound(t *testing.T) {
	ts := newTestServer(t, 10, nil)

	rec := ts.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"message":"Diet Bot API is running"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(HeaderXRequestID))

	rec = ts.do(t, http.MethodGet, "/health", nil)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Not Found"}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/checkout", map[string]string{"user_id": "u1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t, 10, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	req.Header.Set(HeaderXRequestID, "req-42")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(HeaderXRequestID))
}

func TestChatValidation(t *testing.T) {
	ts := newTestServer(t, 10, nil)

	tests := []struct {
		name string
		body interface{}
		code string
	}{
		{"missing user", map[string]string{"text": "Hi"}, assistant.CodeUserIDRequired},
		{"blank user", map[string]string{"user_id": "  ", "text": "Hi"}, assistant.CodeUserIDRequired},
		{"missing text", map[string]string{"user_id": "u1"}, assistant.CodeTextRequired},
		{"whitespace text", map[string]string{"user_id": "u1", "text": "  "}, assistant.CodeTextRequired},
		{"not an object", []string{"x"}, codeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/diet-chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode(t, rec)["error"])
		})
	}
}

func TestChatAndAlias(t *testing.T) {
	ts := newTestServer(t, 10, nil)

	for _, path := range []string{"/diet-chat", "/chat"} {
		rec := ts.do(t, http.MethodPost, path, map[string]string{"user_id": "u1", "text": "Hi"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"paywall":false,"message":"Ответ ассистента"}`, rec.Body.String())
	}

	user, err := ts.store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 8, user.FreeLeft)
}

func TestPaywallIsOK(t *testing.T) {
	ts := newTestServer(t, 0, nil)

	rec := ts.do(t, http.MethodPost, "/suggest-meals", map[string]string{"user_id": "u2", "type": "breakfast"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["paywall"])
	assert.NotEmpty(t, body["message"])

	count, err := ts.store.CountMessages(context.Background(), "u2")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpstreamFailureIs500(t *testing.T) {
	ts := newTestServer(t, 10, nil)
	ts.generator.err = errors.New("boom")

	rec := ts.do(t, http.MethodPost, "/diet-chat", map[string]string{"user_id": "u1", "text": "Hi"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"chat_failed"}`, rec.Body.String())
}

func TestSuggestMealsRejectsUnknownType(t *testing.T) {
	ts := newTestServer(t, 10, nil)

	rec := ts.do(t, http.MethodPost, "/suggest-meals", map[string]string{"user_id": "u1", "type": "dinner"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid_meal_type"}`, rec.Body.String())
}

func TestAnalyzePhoto(t *testing.T) {
	ts := newTestServer(t, 10, nil)

	rec := ts.do(t, http.MethodPost, "/analyze-photo", map[string]string{"user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"image_required"}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/analyze-photo", map[string]string{"user_id": "u1", "image": "https://example.com/apple.jpg"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["paywall"])
	assert.Contains(t, body["message"], "1. Яблоко — 150 г, 78 ккал")
	assert.Equal(t, map[string]interface{}{"kcal": 78.0, "b": nil, "j": nil, "u": nil}, body["total"])
}

func TestAnalyzeVoice(t *testing.T) {
	ts := newTestServer(t, 10, nil)

	rec := ts.do(t, http.MethodPost, "/analyze-voice", map[string]string{"user_id": "u1", "audio": "@@@"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid_audio"}`, rec.Body.String())

	audio := base64.StdEncoding.EncodeToString([]byte("OggS-voice"))
	rec = ts.do(t, http.MethodPost, "/analyze-voice", map[string]string{"user_id": "u1", "audio": audio})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"paywall":false,"message":"Ответ ассистента","transcript":"Сколько калорий в яблоке?"}`, rec.Body.String())
	assert.Equal(t, []byte("OggS-voice"), ts.transcriber.audio)
}

func TestUpdateProfileAndStatus(t *testing.T) {
	ts := newTestServer(t, 10, nil)

	rec := ts.do(t, http.MethodPost, "/update-profile", map[string]interface{}{"user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"profile_required"}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/update-profile", map[string]interface{}{
		"user_id": "u1",
		"profile": map[string]interface{}{"goal": "lose", "weight": 82},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	user, err := ts.store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"goal":"lose","weight":82}`, user.ProfileJSON)

	rec = ts.do(t, http.MethodGet, "/status/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "u1", body["user_id"])
	assert.Equal(t, false, body["is_paid"])
	assert.Equal(t, 10.0, body["free_left"])
}

func TestPaymentConfirm(t *testing.T) {
	ts := newTestServer(t, 0, nil)

	rec := ts.do(t, http.MethodPost, "/payment-confirm", map[string]string{"user_id": "u3", "payment_status": "failed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":false}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/payment-confirm", map[string]string{"user_id": "u3", "payment_status": "success"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/diet-chat", map[string]string{"user_id": "u3", "text": "Hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["paywall"])
}

func TestCheckout(t *testing.T) {
	payments := &stubPayments{}
	ts := newTestServer(t, 10, payments)

	rec := ts.do(t, http.MethodPost, "/checkout", map[string]string{"user_id": "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"session_id":"cs_test","url":"https://checkout.stripe.test/cs_test"}`, rec.Body.String())
	assert.Equal(t, "u1", payments.checkedOut)
}

func TestStripeWebhookMarksUserPaid(t *testing.T) {
	var event stripe.Event
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "object": "checkout.session", "client_reference_id": "u9"}}
	}`), &event))
	ts := newTestServer(t, 0, &stubPayments{event: event})

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewBufferString(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	user, err := ts.store.GetUser(context.Background(), "u9")
	require.NoError(t, err)
	assert.True(t, user.IsPaid)
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	ts := newTestServer(t, 10, &stubPayments{verifyErr: errors.New("bad signature")})

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"missing_signature"}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewBufferString(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid_signature"}`, rec.Body.String())
}

func TestDecodeAudio(t *testing.T) {
	audio, err := decodeAudio("data:audio/ogg;base64," + base64.StdEncoding.EncodeToString([]byte("ogg")))
	require.NoError(t, err)
	assert.Equal(t, []byte("ogg"), audio)

	_, err = decodeAudio("")
	assert.Error(t, err)
}

func TestStatusUnknownUserIs404(t *testing.T) {
	ts := newTestServer(t, 10, nil)

	rec := ts.do(t, http.MethodGet, "/status/stranger", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"user_not_found"}`, rec.Body.String())

	_, err := ts.store.GetUser(context.Background(), "stranger")
	assert.ErrorIs(t, err, db.ErrUserNotFound)

	rec = ts.do(t, http.MethodGet, "/status/"+strings.Repeat("x", 191), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"user_id_required"}`, rec.Body.String())
}

func TestMediaBodyLimit(t *testing.T) {
	ts := newTestServer(t, 10, nil)
	router, err := NewRouter(Dependencies{Service: ts.service, MaxMediaBytes: 256})
	require.NoError(t, err)
	ts.router = router

	big := strings.Repeat("A", 1024)
	for _, tc := range []struct {
		path string
		body map[string]string
	}{
		{"/analyze-photo", map[string]string{"user_id": "u1", "image": "data:image/jpeg;base64," + big}},
		{"/analyze-voice", map[string]string{"user_id": "u1", "audio": big}},
	} {
		rec := ts.do(t, http.MethodPost, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.path)
		assert.JSONEq(t, `{"error":"invalid_request"}`, rec.Body.String(), tc.path)
	}

	_, err = ts.store.GetUser(context.Background(), "u1")
	assert.ErrorIs(t, err, db.ErrUserNotFound)

	rec := ts.do(t, http.MethodPost, "/analyze-photo", map[string]string{"user_id": "u1", "image": "https://example.com/a.jpg"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJSONBodyLimit(t *testing.T) {
	ts := newTestServer(t, 10, nil)

	rec := ts.do(t, http.MethodPost, "/diet-chat", map[string]string{"user_id": "u1", "text": strings.Repeat("a", maxJSONBody)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid_request"}`, rec.Body.String())

	_, err := ts.store.GetUser(context.Background(), "u1")
	assert.ErrorIs(t, err, db.ErrUserNotFound)
}
