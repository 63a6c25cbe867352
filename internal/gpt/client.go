// internal/gpt/client.go
package gpt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"diet-bot/config"

	"github.com/sashabaranov/go-openai"
)

var (
	ErrEmptyResponse     = errors.New("no response from GPT API")
	ErrMalformedAnalysis = errors.New("malformed analysis document")
)

type Client struct {
	client             *openai.Client
	model              string
	visionModel        string
	transcriptionModel string
}

func NewClient(cfg config.GPTConfig) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	c := &Client{
		client:             openai.NewClientWithConfig(clientConfig),
		model:              cfg.Model,
		visionModel:        cfg.VisionModel,
		transcriptionModel: cfg.TranscriptionModel,
	}
	if c.model == "" {
		c.model = openai.GPT4oMini
	}
	if c.visionModel == "" {
		c.visionModel = c.model
	}
	if c.transcriptionModel == "" {
		c.transcriptionModel = openai.Whisper1
	}
	return c
}

func (c *Client) WithModel(model string) *Client {
	c.model = model
	return c
}

func (c *Client) Generate(ctx context.Context, messages []Message, temperature float32) (string, error) {
	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    oaMsgs,
		MaxTokens:   1500,
		Temperature: temperature,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

func (c *Client) AnalyzeImage(ctx context.Context, imageRef, prompt string) (Analysis, error) {
	req := openai.ChatCompletionRequest{
		Model: c.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageRef,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		MaxTokens:   1200,
		Temperature: 0.2,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze image: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	return ParseAnalysis(resp.Choices[0].Message.Content)
}

func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "voice.ogg"
	}

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcriptionModel,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}

	return strings.TrimSpace(resp.Text), nil
}

// ParseAnalysis decodes the model's JSON reply. Models sometimes wrap the
// object in a fenced code block or add prose around it, so only the outermost
// {...} span is decoded.
func ParseAnalysis(content string) (Analysis, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, ErrMalformedAnalysis
	}

	var doc Analysis
	if err := json.Unmarshal([]byte(content[start:end+1]), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}

	_, hasItems := doc["items"]
	_, hasTotal := doc["total"]
	if !hasItems && !hasTotal {
		return nil, ErrMalformedAnalysis
	}
	return doc, nil
}
