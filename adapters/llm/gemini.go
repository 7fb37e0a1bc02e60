package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	DefaultGeminiModel = "gemini-2.5-flash"

	summaryPrompt = `Summarize the following phone call between our voice bot ("Callbot") and a contact ("Contact") in at most three sentences.
State whether the call reached its goal and any commitments or follow-ups the contact mentioned.

Transcript:
`
)

// ErrEmptyTranscript is returned when there is nothing to summarize.
var ErrEmptyTranscript = errors.New("transcript is empty")

// GeminiConfig holds configuration for the Gemini summarizer
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	Timeout         time.Duration
}

// ContentGenerator is the part of the genai models API the summarizer uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiSummarizer implements repositories.Summarizer using Google's Gemini API
type GeminiSummarizer struct {
	models    ContentGenerator
	config    GeminiConfig
	logger    *zap.Logger
	retryWait time.Duration
}

// NewGeminiSummarizer creates a summarizer talking to the Gemini API.
func NewGeminiSummarizer(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiSummarizer, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return NewSummarizerWithGenerator(client.Models, config, logger), nil
}

// NewSummarizerWithGenerator creates a summarizer on top of any
// ContentGenerator.
func NewSummarizerWithGenerator(models ContentGenerator, config GeminiConfig, logger *zap.Logger) *GeminiSummarizer {
	if config.Model == "" {
		config.Model = DefaultGeminiModel
	}
	if config.Temperature == 0 {
		config.Temperature = 0.2
	}
	if config.MaxOutputTokens == 0 {
		config.MaxOutputTokens = 512
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiSummarizer{
		models:    models,
		config:    config,
		logger:    logger,
		retryWait: time.Second,
	}
}

// Summarize implements repositories.Summarizer
func (g *GeminiSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", ErrEmptyTranscript
	}

	contents := []*genai.Content{
		genai.NewContentFromText(summaryPrompt+transcript, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.config.Temperature),
		MaxOutputTokens: g.config.MaxOutputTokens,
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		response, err = g.models.GenerateContent(ctx, g.config.Model, contents, config)
		if err == nil {
			break
		}
		g.logger.Warn("Failed to generate summary, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < 2 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt+1) * g.retryWait):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", errors.New("no summary generated")
	}
	var summary strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil {
			summary.WriteString(part.Text)
		}
	}
	if summary.Len() == 0 {
		return "", errors.New("empty summary generated")
	}
	return strings.TrimSpace(summary.String()), nil
}
