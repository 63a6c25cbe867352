package server

import (
	"errors"
	"strings"
	"sync"
	"unicode"

	"diet-bot/internal/assistant"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const maxUserIDLength = 190

const codeInvalidRequest = "invalid_request"

// fieldCodes maps request struct fields to the client-facing error code
// returned when their validation fails.
var fieldCodes = map[string]string{
	"UserID":  assistant.CodeUserIDRequired,
	"Text":    assistant.CodeTextRequired,
	"Image":   assistant.CodeImageRequired,
	"Audio":   assistant.CodeAudioRequired,
	"Type":    assistant.CodeInvalidMealType,
	"Profile": assistant.CodeProfileRequired,
}

var (
	registerOnce sync.Once
	registerErr  error
)

func registerValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = errors.New("unexpected binding validator engine")
			return
		}
		registerErr = v.RegisterValidation("userid", validUserID)
	})
	return registerErr
}

// validUserID accepts any printable id up to the users.user_id column size.
func validUserID(fl validator.FieldLevel) bool {
	id := strings.TrimSpace(fl.Field().String())
	if id == "" || len(id) > maxUserIDLength {
		return false
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// bindingCode converts a ShouldBindJSON failure into an error code.
func bindingCode(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if code, ok := fieldCodes[verrs[0].StructField()]; ok {
			return code
		}
	}
	return codeInvalidRequest
}
