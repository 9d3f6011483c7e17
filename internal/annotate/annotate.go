// Package annotate produces the optional model-written abstract carried in
// summary document frontmatter. With no provider configured the summarize
// stage skips annotation entirely and the document stays deterministic.
package annotate

import (
	"context"
	"fmt"

	"github.com/filedock/filedock/internal/config"
)

// Annotator writes a short abstract for extracted text. Failures are logged
// and ignored by the caller: an abstract is enrichment, never a stage result.
type Annotator interface {
	Name() string
	Annotate(ctx context.Context, filename, mimeType, text string) (string, error)
}

// maxInputChars bounds how much extracted text is sent to the provider.
const maxInputChars = 12000

const prompt = "Write a two-sentence abstract of the following file content. Reply with the abstract only."

// FromConfig returns the configured annotator, or nil when annotation is
// disabled.
func FromConfig(cfg config.AnnotateConfig) (Annotator, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("annotate: OPENAI_API_KEY not set")
		}
		return NewOpenAI(cfg.OpenAIKey, cfg.Model), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("annotate: ANTHROPIC_API_KEY not set")
		}
		return NewAnthropic(cfg.AnthropicKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("annotate: unknown provider %q", cfg.Provider)
	}
}

func clip(text string) string {
	if len(text) > maxInputChars {
		return text[:maxInputChars]
	}
	return text
}

func userMessage(filename, mimeType, text string) string {
	return fmt.Sprintf("Filename: %s\nMIME type: %s\n\n%s", filename, mimeType, clip(text))
}
