// Package classify maps a file's declared type to a processing plan: which
// stages run and which extractor the extract stage invokes.
package classify

import (
	"strings"

	"github.com/filedock/filedock/internal/extract"
)

// Stage identifies one pipeline stage. Stage names are also the tags recorded
// on job failures.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageDerive    Stage = "derive"
	StageSummarize Stage = "summarize"
	StageFinalize  Stage = "finalize"
)

// Plan is the processing route for one file.
type Plan struct {
	// FastTrack files skip extraction and derivative generation entirely:
	// text content needs no binary decoding or thumbnailing, so routing it
	// through the dominant-cost stages buys nothing.
	FastTrack bool
	Stages    []Stage
	Extractor string
}

// fastTrackMIMEs is the fixed allow-list of plain-text-like types. Everything
// else takes the full pipeline, including unknown types (which run the no-op
// extractor and still get a metadata-only summary).
var fastTrackMIMEs = map[string]bool{
	"text/plain":             true,
	"text/markdown":          true,
	"text/csv":               true,
	"text/html":              true,
	"text/xml":               true,
	"text/x-python":          true,
	"text/x-go":              true,
	"text/x-shellscript":     true,
	"application/json":       true,
	"application/xml":        true,
	"application/javascript": true,
	"application/x-yaml":     true,
}

// fastTrackExts backs up the MIME check for submitters that only send a
// generic content type.
var fastTrackExts = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true,
	".json": true, ".html": true, ".htm": true, ".xml": true,
	".yaml": true, ".yml": true, ".log": true,
	".py": true, ".go": true, ".js": true, ".ts": true, ".sh": true,
}

// Classifier resolves plans against an extractor registry. Classify is a pure
// function of its arguments and the registry's (fixed at startup) contents.
type Classifier struct {
	registry *extract.Registry
}

func New(registry *extract.Registry) *Classifier {
	return &Classifier{registry: registry}
}

func (c *Classifier) Classify(mimeType, ext string, sizeBytes int64) Plan {
	mime := normalizeMIME(mimeType)
	ext = strings.ToLower(ext)

	if fastTrackMIMEs[mime] || (genericMIME(mime) && fastTrackExts[ext]) {
		return Plan{
			FastTrack: true,
			Stages:    []Stage{StageSummarize, StageFinalize},
			Extractor: extract.NoopName,
		}
	}

	return Plan{
		Stages:    []Stage{StageExtract, StageDerive, StageSummarize, StageFinalize},
		Extractor: c.registry.Match(mime, ext).Name(),
	}
}

func normalizeMIME(mimeType string) string {
	if base, _, found := strings.Cut(mimeType, ";"); found {
		mimeType = base
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func genericMIME(mime string) bool {
	return mime == "" || mime == "application/octet-stream"
}
