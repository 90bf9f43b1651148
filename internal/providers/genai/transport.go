package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// transport performs one generateContent round trip.
type transport interface {
	GenerateContent(ctx context.Context, req geminiGenerateContentRequest) (*geminiGenerateContentResponse, error)
}

// statusError is a non-success reply from the provider.
type statusError struct {
	Status int
	Detail string
}

func (e *statusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("gemini status %d", e.Status)
	}
	return fmt.Sprintf("gemini status %d: %s", e.Status, e.Detail)
}

// restTransport talks to the generativelanguage REST endpoint directly.
type restTransport struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func (t *restTransport) GenerateContent(ctx context.Context, payload geminiGenerateContentRequest) (*geminiGenerateContentResponse, error) {
	endpoint := strings.TrimRight(t.baseURL, "/") + fmt.Sprintf("/models/%s:generateContent", url.PathEscape(t.model))
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	if t.apiKey != "" {
		q.Set("key", t.apiKey)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, &statusError{Status: resp.StatusCode, Detail: apiErr.Error.Message}
		}
		return nil, &statusError{Status: resp.StatusCode, Detail: strings.TrimSpace(string(data))}
	}

	var out geminiGenerateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}
	return &out, nil
}

var _ transport = (*restTransport)(nil)
