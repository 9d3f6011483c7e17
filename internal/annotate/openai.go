package annotate

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{client: openai.NewClient(apiKey), model: model}
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) Annotate(ctx context.Context, filename, mimeType, text string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage(filename, mimeType, text)},
		},
		MaxTokens: 200,
	})
	if err != nil {
		return "", fmt.Errorf("openai annotate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai annotate: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
