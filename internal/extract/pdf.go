package extract

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/filedock/filedock/internal/models"
)

// PDF extracts plain text from PDF documents. Pages that fail to decode are
// skipped; a PDF with no extractable text still succeeds with an empty body.
type PDF struct{}

func (PDF) Name() string { return "pdf" }

func (PDF) Extract(ctx context.Context, data []byte, declaredMIME string) (*Payload, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var buf strings.Builder
	numPages := reader.NumPage()

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}

	text := strings.TrimSpace(buf.String())
	payload := &Payload{
		Text:        text,
		RefinedMIME: "application/pdf",
		Metadata:    map[string]string{"pages": strconv.Itoa(numPages)},
	}
	if text != "" {
		payload.Blobs = []Blob{{
			Kind:        models.KindExtractedText,
			ContentType: "text/plain; charset=utf-8",
			Data:        []byte(text),
		}}
	}
	return payload, nil
}
