package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RateLimitError возвращается, когда хранилище ответило 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("archive store rate limited, retry after %s", e.RetryAfter)
}

// HTTPStore сохраняет выгрузки в объектное хранилище с HTTP API:
// PUT {base}/{key} кладёт объект, GET {base}/?prefix= возвращает список объектов.
type HTTPStore struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPStore создаёт клиент объектного хранилища по указанному адресу.
func NewHTTPStore(baseURL string) *HTTPStore {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &HTTPStore{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// Put загружает объект под ключом key.
func (s *HTTPStore) Put(ctx context.Context, key string, data []byte) error {
	if s == nil || s.baseURL == "" {
		return ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+"/"+key, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}

// Latest запрашивает список объектов под prefix и возвращает последний по ключу.
func (s *HTTPStore) Latest(ctx context.Context, prefix string) (*Object, error) {
	if s == nil || s.baseURL == "" {
		return nil, ErrNotConfigured
	}

	u := s.baseURL + "/?prefix=" + url.QueryEscape(prefix)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{RetryAfter: retryAfter(resp)}
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var objects []Object
	if err := json.NewDecoder(resp.Body).Decode(&objects); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var latest *Object
	for i := range objects {
		if !strings.HasPrefix(objects[i].Key, prefix) {
			continue
		}
		if latest == nil || objects[i].Key > latest.Key {
			latest = &objects[i]
		}
	}

	return latest, nil
}
