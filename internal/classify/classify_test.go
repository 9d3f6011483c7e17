package classify

import (
	"testing"

	"github.com/filedock/filedock/internal/extract"
)

func TestClassify(t *testing.T) {
	c := New(extract.DefaultRegistry())

	tests := []struct {
		name          string
		mime          string
		ext           string
		wantFastTrack bool
		wantStages    []Stage
		wantExtractor string
	}{
		{
			name:          "plain text by mime",
			mime:          "text/plain",
			ext:           ".txt",
			wantFastTrack: true,
			wantStages:    []Stage{StageSummarize, StageFinalize},
			wantExtractor: extract.NoopName,
		},
		{
			name:          "markdown with charset parameter",
			mime:          "text/markdown; charset=utf-8",
			ext:           ".md",
			wantFastTrack: true,
			wantStages:    []Stage{StageSummarize, StageFinalize},
			wantExtractor: extract.NoopName,
		},
		{
			name:          "generic mime rescued by extension",
			mime:          "application/octet-stream",
			ext:           ".log",
			wantFastTrack: true,
			wantStages:    []Stage{StageSummarize, StageFinalize},
			wantExtractor: extract.NoopName,
		},
		{
			name:          "empty mime rescued by extension",
			mime:          "",
			ext:           ".go",
			wantFastTrack: true,
			wantStages:    []Stage{StageSummarize, StageFinalize},
			wantExtractor: extract.NoopName,
		},
		{
			name:          "pdf takes the full pipeline",
			mime:          "application/pdf",
			ext:           ".pdf",
			wantStages:    []Stage{StageExtract, StageDerive, StageSummarize, StageFinalize},
			wantExtractor: "pdf",
		},
		{
			name:          "png takes the full pipeline",
			mime:          "image/png",
			ext:           ".png",
			wantStages:    []Stage{StageExtract, StageDerive, StageSummarize, StageFinalize},
			wantExtractor: "image",
		},
		{
			name:          "unknown binary gets the noop extractor",
			mime:          "application/octet-stream",
			ext:           ".bin",
			wantStages:    []Stage{StageExtract, StageDerive, StageSummarize, StageFinalize},
			wantExtractor: extract.NoopName,
		},
		{
			name:          "specific non-text mime ignores text extension map",
			mime:          "application/pdf",
			ext:           ".txt",
			wantStages:    []Stage{StageExtract, StageDerive, StageSummarize, StageFinalize},
			wantExtractor: "pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := c.Classify(tt.mime, tt.ext, 1024)

			if plan.FastTrack != tt.wantFastTrack {
				t.Errorf("FastTrack = %v, want %v", plan.FastTrack, tt.wantFastTrack)
			}
			if plan.Extractor != tt.wantExtractor {
				t.Errorf("Extractor = %q, want %q", plan.Extractor, tt.wantExtractor)
			}
			if len(plan.Stages) != len(tt.wantStages) {
				t.Fatalf("Stages = %v, want %v", plan.Stages, tt.wantStages)
			}
			for i := range plan.Stages {
				if plan.Stages[i] != tt.wantStages[i] {
					t.Errorf("Stages[%d] = %q, want %q", i, plan.Stages[i], tt.wantStages[i])
				}
			}
		})
	}
}

func TestClassifyFastTrackNeverExtracts(t *testing.T) {
	c := New(extract.DefaultRegistry())

	for mime := range fastTrackMIMEs {
		plan := c.Classify(mime, "", 0)
		for _, s := range plan.Stages {
			if s == StageExtract || s == StageDerive {
				t.Errorf("mime %q: fast-track plan contains stage %q", mime, s)
			}
		}
	}
}
