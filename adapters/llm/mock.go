package llm

import (
	"context"
	"strings"
)

// MockSummarizer is a placeholder implementation for development without a
// Gemini key. It returns the first contact line of the transcript.
type MockSummarizer struct{}

// NewMockSummarizer creates a new mock summarizer
func NewMockSummarizer() *MockSummarizer {
	return &MockSummarizer{}
}

// Summarize implements repositories.Summarizer
func (MockSummarizer) Summarize(_ context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", ErrEmptyTranscript
	}
	for _, line := range strings.Split(transcript, "\n") {
		if strings.HasPrefix(line, "Contact: ") {
			return "Contact said " + strings.TrimPrefix(line, "Contact: "), nil
		}
	}
	return "The contact did not speak.", nil
}
