package server

import (
	"errors"
	"net/http"
	"time"

	"diet-bot/internal/assistant"
	"diet-bot/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v72"
)

var errMissingService = errors.New("assistant service dependency required")

// Payments is the checkout provider. The Stripe routes are only mounted when it is set.
type Payments interface {
	CreateCheckoutSession(userID, successURL, cancelURL string) (string, string, error)
	VerifyWebhookSignature(payload []byte, sig string) (stripe.Event, error)
}

type Dependencies struct {
	Service  *assistant.Service
	Payments Payments
	Logger   *logger.Logger

	// MaxMediaBytes caps /analyze-photo and /analyze-voice bodies. Zero means DefaultMaxMediaBytes.
	MaxMediaBytes int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Service == nil {
		return nil, errMissingService
	}
	if err := registerValidators(); err != nil {
		return nil, err
	}

	l := deps.Logger
	if l == nil {
		l = logger.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(accessLog(l))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", HeaderXRequestID},
		ExposeHeaders: []string{HeaderXRequestID},
		MaxAge:        12 * time.Hour,
	}))

	maxMedia := deps.MaxMediaBytes
	if maxMedia <= 0 {
		maxMedia = DefaultMaxMediaBytes
	}

	h := &handler{
		service:      deps.Service,
		payments:     deps.Payments,
		logger:       l,
		maxMediaBody: maxMedia,
	}

	router.GET("/", h.handleRoot)
	router.GET("/health", h.handleHealth)
	router.GET("/status/:user_id", h.handleStatus)

	router.POST("/update-profile", h.handleUpdateProfile)
	router.POST("/diet-chat", h.handleChat)
	router.POST("/chat", h.handleChat)
	router.POST("/analyze-photo", h.handleAnalyzePhoto)
	router.POST("/analyze-voice", h.handleAnalyzeVoice)
	router.POST("/suggest-meals", h.handleSuggestMeals)
	router.POST("/payment-confirm", h.handlePaymentConfirm)

	if deps.Payments != nil {
		router.POST("/checkout", h.handleCheckout)
		router.POST("/webhook/stripe", h.handleStripeWebhook)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "Not Found"})
	})

	return router, nil
}
