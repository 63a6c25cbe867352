package assistant

import "diet-bot/internal/models"

// Allowed is the admission check run before any billable model call.
func Allowed(user *models.UserRecord) bool {
	if user == nil {
		return false
	}
	return user.IsPaid || user.FreeLeft > 0
}
