package extract

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/filedock/filedock/internal/models"
)

// PlainText handles text-like formats: best-effort UTF-8 decode, plus an
// extracted-text derivative so the full pipeline route has the same artifact
// shape as binary formats.
type PlainText struct{}

func (PlainText) Name() string { return "plaintext" }

func (PlainText) Extract(ctx context.Context, data []byte, declaredMIME string) (*Payload, error) {
	text := DecodeText(data)
	mime := declaredMIME
	if mime == "" {
		mime = "text/plain"
	}
	return &Payload{
		Text:        text,
		RefinedMIME: mime,
		Blobs: []Blob{{
			Kind:        models.KindExtractedText,
			ContentType: "text/plain; charset=utf-8",
			Data:        []byte(text),
		}},
	}, nil
}

// DecodeText decodes bytes as UTF-8, replacing invalid sequences rather than
// failing. The fast-track summarize stage uses it directly.
func DecodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}
