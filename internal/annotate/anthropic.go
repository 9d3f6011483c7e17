package annotate

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type Anthropic struct {
	client anthropic.Client
	model  string
}

func NewAnthropic(apiKey, model string) *Anthropic {
	if model == "" {
		model = string(anthropic.ModelClaude3_5HaikuLatest)
	}
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) Annotate(ctx context.Context, filename, mimeType, text string) (string, error) {
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 200,
		System: []anthropic.TextBlockParam{
			{Text: prompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage(filename, mimeType, text))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic annotate: %w", err)
	}

	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	if out == "" {
		return "", fmt.Errorf("anthropic annotate: empty response")
	}
	return out, nil
}
