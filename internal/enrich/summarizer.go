package enrich

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const summarizerModel = "gemini-2.5-flash-lite"

// GeminiSummarizer condenses commit headlines into short first-person
// commentary via the Gemini API. It satisfies compose.Summarizer.
type GeminiSummarizer struct {
	client *genai.Client
	model  string
}

// NewGeminiSummarizer builds the client. An empty API key is a caller bug;
// construction only happens when AI summaries are enabled and configured.
func NewGeminiSummarizer(ctx context.Context, apiKey string) (*GeminiSummarizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiSummarizer{client: client, model: summarizerModel}, nil
}

// Condense implements compose.Summarizer. Errors are returned for the
// composer to fall back on; they never abort a post.
func (s *GeminiSummarizer) Condense(ctx context.Context, headline, version string, wantHashtags bool) (string, error) {
	var b strings.Builder
	b.WriteString("Rewrite this commit message as a short first-person comment of about 20 words, ")
	b.WriteString("as if I just shipped it. Do not include commit hashes. ")
	if version != "" {
		fmt.Fprintf(&b, "Keep the version token %q exactly as written. ", version)
	}
	if wantHashtags {
		b.WriteString("Add one or two fitting hashtags at the end. ")
	} else {
		b.WriteString("Do not add hashtags. ")
	}
	b.WriteString("Output only the comment, no quotes.\n\nCommit message: ")
	b.WriteString(headline)

	result, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(b.String()), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 ||
		result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	return strings.TrimSpace(result.Candidates[0].Content.Parts[0].Text), nil
}
