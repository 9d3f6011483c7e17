package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SupabaseBackend keeps objects in a Supabase storage bucket over the plain
// HTTP object API. Useful when the rest of a deployment already lives on
// Supabase and running MinIO is not worth it.
type SupabaseBackend struct {
	baseURL    string
	serviceKey string
	bucket     string
	httpClient *http.Client
}

func NewSupabaseBackend(supabaseURL, serviceKey, bucket string) *SupabaseBackend {
	return &SupabaseBackend{
		baseURL:    supabaseURL + "/storage/v1",
		serviceKey: serviceKey,
		bucket:     bucket,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (b *SupabaseBackend) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if !ValidKey(key) {
		return permanent(fmt.Errorf("invalid key %q", key))
	}
	url := fmt.Sprintf("%s/object/%s/%s", b.baseURL, b.bucket, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+b.serviceKey)
	req.Header.Set("Content-Type", contentType)
	// Deterministic keys mean every put is an overwrite.
	req.Header.Set("x-upsert", "true")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return classifyHTTPErr(resp.StatusCode, fmt.Errorf("put %s (%d): %s", key, resp.StatusCode, body))
	}
	return nil
}

func (b *SupabaseBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if !ValidKey(key) {
		return nil, permanent(fmt.Errorf("invalid key %q", key))
	}
	url := fmt.Sprintf("%s/object/%s/%s", b.baseURL, b.bucket, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+b.serviceKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return nil, classifyHTTPErr(resp.StatusCode, fmt.Errorf("get %s (%d)", key, resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}

func (b *SupabaseBackend) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return permanent(fmt.Errorf("invalid key %q", key))
	}
	url := fmt.Sprintf("%s/object/%s/%s", b.baseURL, b.bucket, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+b.serviceKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 400 {
		return classifyHTTPErr(resp.StatusCode, fmt.Errorf("delete %s (%d)", key, resp.StatusCode))
	}
	return nil
}

func (b *SupabaseBackend) Copy(ctx context.Context, srcKey, dstKey string) error {
	if !ValidKey(srcKey) || !ValidKey(dstKey) {
		return permanent(fmt.Errorf("invalid key %q -> %q", srcKey, dstKey))
	}
	payload, _ := json.Marshal(map[string]string{
		"bucketId":       b.bucket,
		"sourceKey":      srcKey,
		"destinationKey": dstKey,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/object/copy", bytes.NewReader(payload))
	if err != nil {
		return permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+b.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("copy %s: %w", srcKey, ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return classifyHTTPErr(resp.StatusCode, fmt.Errorf("copy %s -> %s (%d)", srcKey, dstKey, resp.StatusCode))
	}
	return nil
}

func (b *SupabaseBackend) List(ctx context.Context, prefix string) ([]string, error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"prefix": prefix,
		"limit":  1000,
	})

	url := fmt.Sprintf("%s/object/list/%s", b.baseURL, b.bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+b.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, classifyHTTPErr(resp.StatusCode, fmt.Errorf("list %s (%d)", prefix, resp.StatusCode))
	}

	var entries []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, transient(err)
	}

	dir := prefix
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = prefix[:i+1]
	} else {
		dir = ""
	}

	var keys []string
	for _, e := range entries {
		keys = append(keys, dir+e.Name)
	}
	return keys, nil
}

func classifyHTTPErr(status int, err error) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusRequestEntityTooLarge, status == http.StatusBadRequest:
		return permanent(err)
	default:
		return transient(err)
	}
}
