package server

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"diet-bot/internal/assistant"
	"diet-bot/internal/models"
	"diet-bot/internal/payment"
	"diet-bot/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	maxWebhookBody = 64 << 10
	maxJSONBody    = 1 << 20
	// DefaultMaxMediaBytes bounds photo and voice payloads, base64 included.
	DefaultMaxMediaBytes = 32 << 20
)

type handler struct {
	service      *assistant.Service
	payments     Payments
	logger       *logger.Logger
	maxMediaBody int64
}

type statusRequest struct {
	UserID string `uri:"user_id" binding:"required,userid"`
}

type chatRequest struct {
	UserID string `json:"user_id" binding:"required,userid"`
	Text   string `json:"text" binding:"required"`
}

type photoRequest struct {
	UserID string `json:"user_id" binding:"required,userid"`
	Image  string `json:"image" binding:"required"`
}

type voiceRequest struct {
	UserID   string `json:"user_id" binding:"required,userid"`
	Audio    string `json:"audio" binding:"required"`
	Filename string `json:"filename"`
}

type suggestRequest struct {
	UserID string `json:"user_id" binding:"required,userid"`
	Type   string `json:"type" binding:"required"`
}

type profileRequest struct {
	UserID  string         `json:"user_id" binding:"required,userid"`
	Profile models.Profile `json:"profile" binding:"required"`
}

type paymentConfirmRequest struct {
	UserID        string `json:"user_id" binding:"required,userid"`
	PaymentStatus string `json:"payment_status"`
}

type checkoutRequest struct {
	UserID     string `json:"user_id" binding:"required,userid"`
	SuccessURL string `json:"success_url" binding:"omitempty,url"`
	CancelURL  string `json:"cancel_url" binding:"omitempty,url"`
}

type replyResponse struct {
	Paywall bool   `json:"paywall"`
	Message string `json:"message"`
}

type photoResponse struct {
	replyResponse
	Total assistant.Totals `json:"total"`
}

type voiceResponse struct {
	replyResponse
	Transcript string `json:"transcript"`
}

type statusResponse struct {
	UserID   string             `json:"user_id"`
	IsPaid   bool               `json:"is_paid"`
	FreeLeft int                `json:"free_left"`
	Summary  string             `json:"summary"`
	Today    models.MacroTotals `json:"today"`
}

func (h *handler) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "Diet Bot API is running"})
}

func (h *handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *handler) handleChat(c *gin.Context) {
	var req chatRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.service.Chat(c.Request.Context(), req.UserID, req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply(res))
}

func (h *handler) handleAnalyzePhoto(c *gin.Context) {
	var req photoRequest
	if !h.bindLimited(c, &req, h.maxMediaBody) {
		return
	}

	res, err := h.service.AnalyzePhoto(c.Request.Context(), req.UserID, req.Image)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, photoResponse{replyResponse: reply(res.Result), Total: res.Total})
}

func (h *handler) handleAnalyzeVoice(c *gin.Context) {
	var req voiceRequest
	if !h.bindLimited(c, &req, h.maxMediaBody) {
		return
	}

	audio, err := decodeAudio(req.Audio)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": assistant.CodeInvalidAudio})
		return
	}

	res, err := h.service.AnalyzeVoice(c.Request.Context(), req.UserID, audio, req.Filename)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, voiceResponse{replyResponse: reply(res.Result), Transcript: res.Transcript})
}

func (h *handler) handleSuggestMeals(c *gin.Context) {
	var req suggestRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.service.SuggestMeals(c.Request.Context(), req.UserID, req.Type)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply(res))
}

func (h *handler) handleUpdateProfile(c *gin.Context) {
	var req profileRequest
	if !h.bind(c, &req) {
		return
	}

	if err := h.service.UpdateProfile(c.Request.Context(), req.UserID, req.Profile); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *handler) handlePaymentConfirm(c *gin.Context) {
	var req paymentConfirmRequest
	if !h.bind(c, &req) {
		return
	}

	ok, err := h.service.ConfirmPayment(c.Request.Context(), req.UserID, req.PaymentStatus)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": ok})
}

func (h *handler) handleStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingCode(err)})
		return
	}

	status, err := h.service.Status(c.Request.Context(), req.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{
		UserID:   status.UserID,
		IsPaid:   status.IsPaid,
		FreeLeft: status.FreeLeft,
		Summary:  status.Summary,
		Today:    status.Today,
	})
}

func (h *handler) handleCheckout(c *gin.Context) {
	var req checkoutRequest
	if !h.bind(c, &req) {
		return
	}

	sessionID, url, err := h.payments.CreateCheckoutSession(strings.TrimSpace(req.UserID), req.SuccessURL, req.CancelURL)
	if err != nil {
		h.logger.Errorw("Failed to create checkout session", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "checkout_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "url": url})
}

func (h *handler) handleStripeWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warnw("Failed to read webhook body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidRequest})
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_signature"})
		return
	}

	event, err := h.payments.VerifyWebhookSignature(body, signature)
	if err != nil {
		if errors.Is(err, payment.ErrWebhookNotConfigured) {
			h.logger.Error("Webhook secret is not configured")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook_not_configured"})
			return
		}
		h.logger.Warnw("Failed to verify webhook signature", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
		return
	}

	userID, completed, err := payment.CompletedCheckoutUser(event)
	if err != nil {
		h.logger.Errorw("Invalid checkout event", "event_id", event.ID, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event"})
		return
	}
	if !completed {
		h.logger.Infow("Ignoring Stripe event", "event_id", event.ID, "type", event.Type)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if _, err := h.service.ConfirmPayment(c.Request.Context(), userID, assistant.PaymentStatusSuccess); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// bind decodes the JSON body and writes the 400 response itself on failure.
func (h *handler) bind(c *gin.Context, req interface{}) bool {
	return h.bindLimited(c, req, maxJSONBody)
}

func (h *handler) bindLimited(c *gin.Context, req interface{}, limit int64) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	if err := c.ShouldBindJSON(req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warnw("Request body too large", "path", c.FullPath(), "limit", tooLarge.Limit)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingCode(err)})
		return false
	}
	return true
}

// fail maps a service error onto the status code and body the clients expect.
func (h *handler) fail(c *gin.Context, err error) {
	code := assistant.ErrorCode(err)
	if assistant.IsInvalidInput(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": code})
		return
	}
	if assistant.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": code})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": code})
}

func reply(res assistant.Result) replyResponse {
	return replyResponse{Paywall: res.Paywall, Message: res.Message}
}

// decodeAudio accepts standard or URL-safe base64, optionally as a data URL.
func decodeAudio(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		if i := strings.Index(raw, ","); i >= 0 {
			raw = raw[i+1:]
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if audio, err := enc.DecodeString(raw); err == nil && len(audio) > 0 {
			return audio, nil
		}
	}
	return nil, errors.New("audio is not valid base64")
}
