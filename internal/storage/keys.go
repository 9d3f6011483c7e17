package storage

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Key scheme. This layout is a durable contract other tooling may depend on,
// so keys are built here and nowhere else:
//
//	{owner}/files/{file_id}/original
//	{owner}/files/{file_id}/derivatives/{kind}
//	{owner}/files/{file_id}/ai/summary.md
func OriginalKey(owner string, fileID uuid.UUID) string {
	return fmt.Sprintf("%s/files/%s/original", owner, fileID)
}

func DerivativeKey(owner string, fileID uuid.UUID, kind string) string {
	return fmt.Sprintf("%s/files/%s/derivatives/%s", owner, fileID, kind)
}

func SummaryKey(owner string, fileID uuid.UUID) string {
	return fmt.Sprintf("%s/files/%s/ai/summary.md", owner, fileID)
}

func FilePrefix(owner string, fileID uuid.UUID) string {
	return fmt.Sprintf("%s/files/%s/", owner, fileID)
}

// ValidKey rejects keys that would escape the backend root or address it
// ambiguously. Violations are permanent errors at the call sites.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
