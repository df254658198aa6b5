// Package objectstore talks to the firm's file-storage collaborator. The
// messaging core never inspects stored bytes; it records paths and the
// time-limited URLs the signer hands back.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"messaging-service/internal/apperr"
)

// Store uploads attachment bytes and signs access URLs.
type Store interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// HTTPStore is a Store backed by the storage service's HTTP API.
type HTTPStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPStore constructs an HTTPStore.
func NewHTTPStore(baseURL, apiKey string) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload stores the object under path.
func (s *HTTPStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if err := validatePath(path); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		s.baseURL+"/objects/"+url.PathEscape(path), bytes.NewReader(data))
	if err != nil {
		return apperr.Wrap(err, apperr.Transient, "build upload request")
	}
	req.Header.Set("Content-Type", contentType)
	if s.apiKey != "" {
		req.Header.Set("X-Api-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return apperr.Wrap(err, apperr.Transient, "upload object %s", path)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.New(apperr.Transient, "upload object %s: status %d", path, resp.StatusCode)
	}
	return nil
}

// SignedURL returns a time-limited access URL for a stored object.
func (s *HTTPStore) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/objects/%s/url?ttl=%s",
		s.baseURL, url.PathEscape(path), strconv.Itoa(int(ttl.Seconds())))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", apperr.Wrap(err, apperr.Transient, "build sign request")
	}
	if s.apiKey != "" {
		req.Header.Set("X-Api-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", apperr.Wrap(err, apperr.Transient, "sign object %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", apperr.New(apperr.Transient, "sign object %s: status %d", path, resp.StatusCode)
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", apperr.Wrap(err, apperr.Transient, "decode sign response")
	}
	if body.URL == "" {
		return "", apperr.New(apperr.Transient, "sign object %s: empty url", path)
	}
	return body.URL, nil
}

func validatePath(path string) error {
	if path == "" || strings.Contains(path, "..") {
		return apperr.New(apperr.Validation, "invalid storage path %q", path)
	}
	return nil
}
