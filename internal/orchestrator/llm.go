package orchestrator

import "context"

// Generation is an LLM completion. Providers disagree on the field name, so
// both content and text are accepted; everything else is ignored.
type Generation struct {
	Content string `json:"content,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Output returns the usable completion text, preferring content.
func (g *Generation) Output() string {
	if g.Content != "" {
		return g.Content
	}
	return g.Text
}

// LLMClient is the invocation contract of the external LLM collaborator.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (*Generation, error)
}
