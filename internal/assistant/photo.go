package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"diet-bot/internal/models"
)

const photoTurnText = "📷 Фото блюда"

// AnalyzePhoto estimates the meal on an image, logs it as a MealEntry and
// replies with the rendered breakdown. image is a URL, a data URL or bare base64.
func (s *Service) AnalyzePhoto(ctx context.Context, userID, image string) (PhotoResult, error) {
	if strings.TrimSpace(userID) == "" {
		return PhotoResult{}, invalidInput(CodeUserIDRequired)
	}
	ref := ImageReference(image)
	if ref == "" {
		return PhotoResult{}, invalidInput(CodeImageRequired)
	}

	user, allowed, err := s.admit(ctx, userID)
	if err != nil || !allowed {
		res, err := paywallOrErr(err)
		return PhotoResult{Result: res}, err
	}
	committed := false
	defer s.releaseUnless(ctx, user, &committed)

	if s.analyzer == nil {
		return PhotoResult{}, &UpstreamError{Code: CodePhotoFailed, Err: errors.New("image analyzer not configured")}
	}

	callCtx, cancel := s.callContext(ctx)
	analysis, err := s.analyzer.AnalyzeImage(callCtx, ref, photoPrompt)
	cancel()
	if err != nil {
		s.logger.Errorw("Photo analysis failed", "user_id", user.UserID, "error", err)
		return PhotoResult{}, &UpstreamError{Code: CodePhotoFailed, Err: err}
	}

	text := RenderAnalysis(analysis)
	totals := AnalysisTotals(analysis)

	raw, err := json.Marshal(analysis)
	if err != nil {
		return PhotoResult{}, &UpstreamError{Code: CodePhotoFailed, Err: err}
	}
	meal := &models.MealEntry{
		UserID:   user.UserID,
		Source:   models.MealSourcePhoto,
		ItemJSON: string(raw),
		Kcal:     valueOrZero(totals.Kcal),
		B:        valueOrZero(totals.B),
		J:        valueOrZero(totals.J),
		U:        valueOrZero(totals.U),
	}
	if err := s.commit(ctx, user, meal, photoTurnText, text); err != nil {
		return PhotoResult{}, err
	}
	committed = true
	return PhotoResult{Result: Result{Message: text}, Total: totals}, nil
}

// ImageReference normalizes the inbound image field: URLs and data URLs pass
// through, anything else is treated as base64 JPEG data.
func ImageReference(image string) string {
	image = strings.TrimSpace(image)
	switch {
	case image == "":
		return ""
	case strings.HasPrefix(image, "http://"), strings.HasPrefix(image, "https://"), strings.HasPrefix(image, "data:"):
		return image
	default:
		return "data:image/jpeg;base64," + image
	}
}
