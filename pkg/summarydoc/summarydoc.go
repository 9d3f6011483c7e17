// Package summarydoc defines the canonical frontmatter + body document every
// consumer reads for file context, regardless of the file's original format.
// UI viewers and AI context builders consume this document plus the
// derivative rows — never raw storage keys.
package summarydoc

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ContentType is the summary document's MIME type wherever it is served.
const ContentType = "text/markdown; charset=utf-8"

const delimiter = "---"

// Frontmatter is the machine-readable header. The Derivatives list always
// matches the derivative rows persisted for the file exactly.
type Frontmatter struct {
	FileID           string          `yaml:"file_id"`
	OriginalFilename string          `yaml:"original_filename"`
	MIMEType         string          `yaml:"mime_type"`
	ContentHash      string          `yaml:"content_hash,omitempty"`
	Producer         string          `yaml:"producer"`
	Abstract         string          `yaml:"abstract,omitempty"`
	Metadata         map[string]string `yaml:"metadata,omitempty"`
	Derivatives      []DerivativeRef `yaml:"derivatives"`
}

// DerivativeRef names one produced artifact and where it lives.
type DerivativeRef struct {
	Kind        string `yaml:"kind"`
	StorageKey  string `yaml:"storage_key"`
	ContentType string `yaml:"content_type"`
}

// Document is one summary document. Body is the file's normalized text
// content; empty for formats with none (metadata-only summary).
type Document struct {
	Frontmatter Frontmatter
	Body        string
}

// Encode renders the document as YAML frontmatter between --- delimiters
// followed by the body.
func (d *Document) Encode() ([]byte, error) {
	fm, err := yaml.Marshal(&d.Frontmatter)
	if err != nil {
		return nil, fmt.Errorf("marshal frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")
	buf.Write(fm)
	buf.WriteString(delimiter + "\n")
	if d.Body != "" {
		buf.WriteString("\n")
		buf.WriteString(d.Body)
	}
	return buf.Bytes(), nil
}

// Decode parses a document produced by Encode. Consumers treat a missing
// document as "processing incomplete"; a present one always parses.
func Decode(data []byte) (*Document, error) {
	text := string(data)
	if !strings.HasPrefix(text, delimiter+"\n") {
		return nil, fmt.Errorf("summary document: missing frontmatter delimiter")
	}

	rest := text[len(delimiter)+1:]
	end := strings.Index(rest, "\n"+delimiter)
	if end < 0 {
		return nil, fmt.Errorf("summary document: unterminated frontmatter")
	}

	var doc Document
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &doc.Frontmatter); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}

	body := rest[end+1+len(delimiter):]
	body = strings.TrimPrefix(body, "\n")
	doc.Body = strings.TrimPrefix(body, "\n")
	return &doc, nil
}
