package assistant

import (
	"errors"
	"fmt"

	"diet-bot/internal/db"
)

// ErrInvalidInput is returned when a required field is missing or unusable.
// Wrapped errors carry a stable code, see InputError.
var ErrInvalidInput = errors.New("invalid input")

// Stable error codes exposed to HTTP clients.
const (
	CodeUserIDRequired   = "user_id_required"
	CodeTextRequired     = "text_required"
	CodeImageRequired    = "image_required"
	CodeAudioRequired    = "audio_required"
	CodeInvalidAudio     = "invalid_audio"
	CodeInvalidMealType  = "invalid_meal_type"
	CodeProfileRequired  = "profile_required"
	CodeChatFailed       = "chat_failed"
	CodePhotoFailed      = "photo_analysis_failed"
	CodeVoiceFailed      = "voice_analysis_failed"
	CodeSuggestionFailed = "suggestion_failed"
	CodeUserNotFound     = "user_not_found"
	CodeStorageFailure   = "storage_failure"
)

// InputError is a validation failure with a client-facing code.
type InputError struct {
	Code string
}

func (e *InputError) Error() string {
	return "invalid input: " + e.Code
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

func invalidInput(code string) error {
	return &InputError{Code: code}
}

// UpstreamError wraps a failed generation, vision or transcription call.
// Code is per modality; Err is for logs only.
type UpstreamError struct {
	Code string
	Err  error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// StorageError wraps a store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsNotFound reports whether err means the user has no record yet.
func IsNotFound(err error) bool {
	return errors.Is(err, db.ErrUserNotFound)
}

// ErrorCode maps an error returned by Service to its stable client code.
func ErrorCode(err error) string {
	var (
		input    *InputError
		upstream *UpstreamError
	)
	switch {
	case errors.As(err, &input):
		return input.Code
	case errors.As(err, &upstream):
		return upstream.Code
	case errors.Is(err, db.ErrUserNotFound):
		return CodeUserNotFound
	default:
		return CodeStorageFailure
	}
}
