// Package extract defines the plugin contract format-specific extractors must
// satisfy and the registry the classifier consults. Extractors are pure: they
// map (original bytes, declared MIME) to a payload and never touch storage —
// the pipeline performs all writes.
package extract

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
)

// Payload is everything an extractor learned from the original bytes.
type Payload struct {
	// Text is the normalized text content, empty when the format has none.
	Text string
	// RefinedMIME replaces the declared MIME type when the extractor knows
	// better (e.g. sniffed image format).
	RefinedMIME string
	// Blobs are derivative artifacts the derive stage should persist.
	Blobs []Blob
	// Metadata carries small format facts (page count, dimensions).
	Metadata map[string]string
}

// Blob is one derivative artifact produced by an extractor.
type Blob struct {
	Kind        string
	ContentType string
	Data        []byte
}

type Extractor interface {
	Name() string
	Extract(ctx context.Context, data []byte, declaredMIME string) (*Payload, error)
}

// Registry maps MIME types and extension patterns to extractors. Lookups that
// match nothing fall back to the no-op extractor, so every file type has a
// defined processing behavior.
type Registry struct {
	mu     sync.RWMutex
	byMIME map[string]Extractor
	byExt  map[string]Extractor
	byName map[string]Extractor
}

func NewRegistry() *Registry {
	r := &Registry{
		byMIME: make(map[string]Extractor),
		byExt:  make(map[string]Extractor),
		byName: make(map[string]Extractor),
	}
	r.Register(Noop{})
	return r
}

// DefaultRegistry returns a registry with the built-in extractors wired.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(PlainText{}, "text/plain", "text/markdown", "text/csv", ".txt", ".md", ".csv", ".log")
	r.Register(PDF{}, "application/pdf", ".pdf")
	r.Register(Image{}, "image/png", "image/jpeg", "image/gif", ".png", ".jpg", ".jpeg", ".gif")
	return r
}

// Register binds an extractor to MIME types (no dot) and extensions (leading
// dot). With no patterns the extractor is only reachable by name.
func (r *Registry) Register(e Extractor, patterns ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[e.Name()] = e
	for _, p := range patterns {
		p = strings.ToLower(p)
		if strings.HasPrefix(p, ".") {
			r.byExt[p] = e
		} else {
			r.byMIME[p] = e
		}
	}
}

// Match resolves the extractor for a MIME type and filename extension,
// preferring the MIME binding. MIME parameters ("; charset=...") are ignored.
func (r *Registry) Match(mimeType, ext string) Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if base, _, found := strings.Cut(mimeType, ";"); found {
		mimeType = base
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if e, ok := r.byMIME[mimeType]; ok {
		return e
	}
	if e, ok := r.byExt[strings.ToLower(ext)]; ok {
		return e
	}
	return r.byName[NoopName]
}

// ByName returns a registered extractor, falling back to no-op for unknown
// names so a stale plan never panics the pipeline.
func (r *Registry) ByName(name string) Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byName[name]; ok {
		return e
	}
	return r.byName[NoopName]
}

// Ext pulls the lowercase extension out of a filename, dot included.
func Ext(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

const NoopName = "noop"

// Noop is the fallback extractor for unknown or unsupported types: no text,
// no derivatives, the declared MIME passed through. Files still end up with
// a metadata-only summary document instead of failing.
type Noop struct{}

func (Noop) Name() string { return NoopName }

func (Noop) Extract(ctx context.Context, data []byte, declaredMIME string) (*Payload, error) {
	mime := declaredMIME
	if mime == "" {
		mime = "application/octet-stream"
	}
	return &Payload{RefinedMIME: mime}, nil
}
