package repositories

import "context"

// Summarizer abstracts any LLM provider able to condense a call transcript
type Summarizer interface {
	// Summarize returns a short summary of the given transcript
	Summarize(ctx context.Context, transcript string) (string, error)
}
