package gpt

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Analysis is the structured meal document returned by image analysis:
// items[] (name, grams, kcal, b, j, u), total{kcal, b, j, u} and advice.
// It is kept untyped because the model decides which fields it fills in.
type Analysis map[string]interface{}

// Generator produces a reply for a role-tagged message sequence.
type Generator interface {
	Generate(ctx context.Context, messages []Message, temperature float32) (string, error)
}

// ImageAnalyzer turns an image reference (URL or data URL) into an Analysis.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, imageRef, prompt string) (Analysis, error)
}

// Transcriber converts raw audio into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}
