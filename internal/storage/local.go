package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalBackend stores objects as files under a root directory. The content
// type is remembered in a sidecar xattr-style file next to the object so Get
// round-trips what Put declared.
type LocalBackend struct {
	root string
}

func NewLocalBackend(root string) (*LocalBackend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalBackend{root: abs}, nil
}

func (b *LocalBackend) path(key string) (string, error) {
	if !ValidKey(key) {
		return "", permanent(fmt.Errorf("invalid key %q", key))
	}
	return filepath.Join(b.root, filepath.FromSlash(key)), nil
}

func (b *LocalBackend) Put(ctx context.Context, key string, data []byte, contentType string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return classifyFSErr(err)
	}

	// Write to a temp file and rename so a concurrent reader never sees a
	// half-written object.
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return classifyFSErr(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return classifyFSErr(err)
	}
	if err := tmp.Close(); err != nil {
		return classifyFSErr(err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return classifyFSErr(err)
	}
	if err := os.WriteFile(p+".ctype", []byte(contentType), 0o644); err != nil {
		return classifyFSErr(err)
	}
	return nil
}

func (b *LocalBackend) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, classifyFSErr(err)
	}
	return data, nil
}

// ContentType returns the content type recorded at Put time, or empty when
// unknown.
func (b *LocalBackend) ContentType(key string) string {
	p, err := b.path(key)
	if err != nil {
		return ""
	}
	ct, err := os.ReadFile(p + ".ctype")
	if err != nil {
		return ""
	}
	return string(ct)
}

func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return classifyFSErr(err)
	}
	os.Remove(p + ".ctype")
	return nil
}

func (b *LocalBackend) Copy(ctx context.Context, srcKey, dstKey string) error {
	data, err := b.Get(ctx, srcKey)
	if err != nil {
		return err
	}
	return b.Put(ctx, dstKey, data, b.ContentType(srcKey))
}

func (b *LocalBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(b.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".ctype") || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, classifyFSErr(err)
	}
	sort.Strings(keys)
	return keys, nil
}

func classifyFSErr(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return permanent(err)
	}
	return transient(err)
}
