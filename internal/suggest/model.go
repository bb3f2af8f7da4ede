package suggest

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// Model generates a text completion for a prompt.
// This interface enables mocking of the AI backend in tests.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiModel is the Model backed by Google Gemini.
type GeminiModel struct {
	client *genai.Client
	name   string
}

// NewGeminiModel creates a Gemini client. Credentials come from the
// environment (GOOGLE_API_KEY or Vertex AI settings).
func NewGeminiModel(ctx context.Context, name string) (*GeminiModel, error) {
	if name == "" {
		name = DefaultModelName
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiModel: create genai client: %w", err)
	}
	return &GeminiModel{client: client, name: name}, nil
}

// Generate sends a single user turn and returns the text of the reply.
func (m *GeminiModel) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.name, contents, nil)
	if err != nil {
		return "", fmt.Errorf("Generate: generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("Generate: empty response from model")
	}
	return text, nil
}

// cleanModelJSON strips Markdown fences and any text around the outermost
// JSON array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
