package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"diet-bot/internal/db"
	"diet-bot/internal/gpt"
	"diet-bot/internal/models"
	"diet-bot/pkg/logger"
)

const (
	chatTemperature       = 0.7
	suggestionTemperature = 0.8

	PaymentStatusSuccess = "success"
)

const paywallMessage = "Бесплатные сообщения закончились. Оформите подписку, чтобы продолжить общение с ассистентом."

// ServiceConfig describes the collaborators and limits of the assistant.
type ServiceConfig struct {
	Store       db.Store
	Generator   gpt.Generator
	Analyzer    gpt.ImageAnalyzer
	Transcriber gpt.Transcriber
	Logger      *logger.Logger

	FreeMessages  int
	HistoryWindow int
	CompactEvery  int
	CompactWindow int
	// CallTimeout bounds every external model call.
	CallTimeout time.Duration
	Clock       func() time.Time
}

// Service runs the chat, photo, voice and meal-suggestion interactions.
type Service struct {
	users       *Manager
	contexts    *ContextBuilder
	compactor   *Compactor
	store       db.Store
	generator   gpt.Generator
	analyzer    gpt.ImageAnalyzer
	transcriber gpt.Transcriber
	logger      *logger.Logger
	timeout     time.Duration
	now         func() time.Time
}

// Result is the reply of an interaction. Paywall replies are not errors.
type Result struct {
	Paywall bool
	Message string
}

type PhotoResult struct {
	Result
	Total Totals
}

type VoiceResult struct {
	Result
	Transcript string
}

// Status is a snapshot of a user's entitlement and today's logged meals.
type Status struct {
	UserID   string
	IsPaid   bool
	FreeLeft int
	Summary  string
	Today    models.MacroTotals
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("assistant: store required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("assistant: generator required")
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	if cfg.CompactEvery <= 0 {
		cfg.CompactEvery = 15
	}
	if cfg.CompactWindow <= 0 {
		cfg.CompactWindow = 50
	}
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	users := NewManager(cfg.Store, cfg.FreeMessages)
	return &Service{
		users:    users,
		contexts: NewContextBuilder(cfg.Store, cfg.HistoryWindow),
		compactor: NewCompactor(CompactorConfig{
			Store:     cfg.Store,
			Users:     users,
			Generator: cfg.Generator,
			Every:     cfg.CompactEvery,
			Window:    cfg.CompactWindow,
			Timeout:   cfg.CallTimeout,
			Logger:    l,
		}),
		store:       cfg.Store,
		generator:   cfg.Generator,
		analyzer:    cfg.Analyzer,
		transcriber: cfg.Transcriber,
		logger:      l,
		timeout:     cfg.CallTimeout,
		now:         clock,
	}, nil
}

// Users exposes the record manager.
func (s *Service) Users() *Manager {
	return s.users
}

func (s *Service) Chat(ctx context.Context, userID, text string) (Result, error) {
	if strings.TrimSpace(userID) == "" {
		return Result{}, invalidInput(CodeUserIDRequired)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, invalidInput(CodeTextRequired)
	}

	user, allowed, err := s.admit(ctx, userID)
	if err != nil || !allowed {
		return paywallOrErr(err)
	}
	committed := false
	defer s.releaseUnless(ctx, user, &committed)

	reply, err := s.converse(ctx, user, text, chatTemperature, CodeChatFailed)
	if err != nil {
		return Result{}, err
	}

	if err := s.commit(ctx, user, nil, text, reply); err != nil {
		return Result{}, err
	}
	committed = true
	return Result{Message: reply}, nil
}

func (s *Service) SuggestMeals(ctx context.Context, userID, mealType string) (Result, error) {
	if strings.TrimSpace(userID) == "" {
		return Result{}, invalidInput(CodeUserIDRequired)
	}
	name, ok := mealTypes[strings.ToLower(strings.TrimSpace(mealType))]
	if !ok {
		return Result{}, invalidInput(CodeInvalidMealType)
	}

	user, allowed, err := s.admit(ctx, userID)
	if err != nil || !allowed {
		return paywallOrErr(err)
	}
	committed := false
	defer s.releaseUnless(ctx, user, &committed)

	prompt := fmt.Sprintf(suggestionPrompt, name)
	reply, err := s.converse(ctx, user, prompt, suggestionTemperature, CodeSuggestionFailed)
	if err != nil {
		return Result{}, err
	}

	if err := s.commit(ctx, user, nil, prompt, reply); err != nil {
		return Result{}, err
	}
	committed = true
	return Result{Message: reply}, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, profile models.Profile) error {
	if strings.TrimSpace(userID) == "" {
		return invalidInput(CodeUserIDRequired)
	}
	if profile == nil {
		return invalidInput(CodeProfileRequired)
	}

	user, err := s.users.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	return s.users.SetProfile(ctx, user.UserID, profile)
}

// ConfirmPayment marks the user paid when status is "success". Any other
// status is reported as false and changes nothing.
func (s *Service) ConfirmPayment(ctx context.Context, userID, status string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, invalidInput(CodeUserIDRequired)
	}
	if status != PaymentStatusSuccess {
		return false, nil
	}

	user, err := s.users.GetOrCreate(ctx, userID)
	if err != nil {
		return false, err
	}
	if err := s.users.MarkPaid(ctx, user.UserID); err != nil {
		return false, err
	}
	s.logger.Infow("Payment confirmed", "user_id", user.UserID)
	return true, nil
}

// Status reads a user's entitlement and today's meal totals. It never creates
// a record: unknown users yield db.ErrUserNotFound.
func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Status{}, invalidInput(CodeUserIDRequired)
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Status{}, storageErr("get user", err)
	}

	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	meals, err := s.store.MealsSince(ctx, user.UserID, dayStart)
	if err != nil {
		return Status{}, storageErr("meals since", err)
	}

	return Status{
		UserID:   user.UserID,
		IsPaid:   user.IsPaid,
		FreeLeft: user.FreeLeft,
		Summary:  user.Summary,
		Today:    models.SumMeals(meals),
	}, nil
}

// admit resolves the user, applies the entitlement gate and, for unpaid users,
// reserves one free message with the conditional decrement. Concurrent requests
// cannot reserve more messages than are left. A reservation that is not
// followed by a commit must be given back, see releaseUnless.
func (s *Service) admit(ctx context.Context, userID string) (*models.UserRecord, bool, error) {
	user, err := s.users.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if !Allowed(user) {
		s.logger.Infow("Paywall reached", "user_id", user.UserID)
		return user, false, nil
	}
	if user.IsPaid {
		return user, true, nil
	}

	reserved, err := s.users.ReserveFree(ctx, user.UserID)
	if err != nil {
		return nil, false, err
	}
	if reserved {
		return user, true, nil
	}

	// Either another request took the last message or the user paid meanwhile.
	user, err = s.users.GetOrCreate(ctx, user.UserID)
	if err != nil {
		return nil, false, err
	}
	if user.IsPaid {
		return user, true, nil
	}
	s.logger.Infow("Paywall reached", "user_id", user.UserID)
	return user, false, nil
}

// releaseUnless refunds the message reserved by admit when the turn was not committed.
func (s *Service) releaseUnless(ctx context.Context, user *models.UserRecord, committed *bool) {
	if *committed || user.IsPaid {
		return
	}
	if err := s.users.RefundFree(context.WithoutCancel(ctx), user.UserID); err != nil {
		s.logger.Errorw("Failed to refund free message", "user_id", user.UserID, "error", err)
	}
}

func paywallOrErr(err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	return Result{Paywall: true, Message: paywallMessage}, nil
}

// converse builds the user's context and asks the generator for a reply.
// Generation failures come back as an UpstreamError carrying code.
func (s *Service) converse(ctx context.Context, user *models.UserRecord, text string, temperature float32, code string) (string, error) {
	built, err := s.contexts.Build(ctx, user)
	if err != nil {
		return "", err
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	reply, err := s.generator.Generate(callCtx, built.Messages(systemPrompt, text), temperature)
	if err != nil {
		s.logger.Errorw("Generation failed", "user_id", user.UserID, "code", code, "error", err)
		return "", &UpstreamError{Code: code, Err: err}
	}
	return reply, nil
}

// commit stores the optional meal and both turns in one transaction, then runs compaction.
func (s *Service) commit(ctx context.Context, user *models.UserRecord, meal *models.MealEntry, userText, reply string) error {
	turns := []*models.MessageEntry{
		{UserID: user.UserID, Role: models.RoleUser, Text: userText},
		{UserID: user.UserID, Role: models.RoleAssistant, Text: reply},
	}
	if err := s.store.CommitTurn(ctx, meal, turns); err != nil {
		return storageErr("commit turn", err)
	}

	s.compactor.MaybeCompact(ctx, user.UserID)
	return nil
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// IsInvalidInput reports whether err is a validation failure.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
