package storage

import (
	"fmt"

	"github.com/filedock/filedock/internal/config"
)

// FromConfig builds the one Backend a process uses, selected at startup.
func FromConfig(cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalBackend(cfg.Local.Root)
	case "s3":
		return NewS3Backend(S3Options{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
		})
	case "supabase":
		return NewSupabaseBackend(cfg.Supabase.URL, cfg.Supabase.ServiceKey, cfg.Supabase.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
