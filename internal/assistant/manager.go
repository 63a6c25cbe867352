package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"diet-bot/internal/db"
	"diet-bot/internal/models"
)

// Manager owns every mutation of a UserRecord.
type Manager struct {
	store        db.Store
	freeMessages int
}

func NewManager(store db.Store, freeMessages int) *Manager {
	return &Manager{store: store, freeMessages: freeMessages}
}

// GetOrCreate returns the user's record, inserting one with defaults on first use.
// Concurrent first requests for the same id resolve to the same row because
// creation is insert-or-ignore.
func (m *Manager) GetOrCreate(ctx context.Context, userID string) (*models.UserRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalidInput(CodeUserIDRequired)
	}

	if err := m.store.CreateUserIfMissing(ctx, userID, m.freeMessages); err != nil {
		return nil, storageErr("create user", err)
	}

	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storageErr("get user", err)
	}
	return user, nil
}

// SetProfile replaces the stored profile document. The user must exist.
func (m *Manager) SetProfile(ctx context.Context, userID string, profile models.Profile) error {
	if profile == nil {
		return invalidInput(CodeProfileRequired)
	}
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("%w: %v", invalidInput(CodeProfileRequired), err)
	}
	return storageErr("update profile", m.store.UpdateProfile(ctx, userID, string(raw)))
}

// SetSummary replaces the rolling conversation summary.
func (m *Manager) SetSummary(ctx context.Context, userID, summary string) error {
	return storageErr("update summary", m.store.UpdateSummary(ctx, userID, summary))
}

// MarkPaid grants unlimited access. Repeated calls leave the same state.
func (m *Manager) MarkPaid(ctx context.Context, userID string) error {
	return storageErr("mark paid", m.store.MarkPaid(ctx, userID, models.UnlimitedFree))
}

// ReserveFree spends one free message ahead of a model call. It reports
// false when the user is paid or has nothing left.
func (m *Manager) ReserveFree(ctx context.Context, userID string) (bool, error) {
	ok, err := m.store.DecrementFree(ctx, userID)
	if err != nil {
		return false, storageErr("reserve free message", err)
	}
	return ok, nil
}

// RefundFree gives back a reservation whose turn was never committed.
func (m *Manager) RefundFree(ctx context.Context, userID string) error {
	return storageErr("refund free message", m.store.RefundFree(ctx, userID))
}
