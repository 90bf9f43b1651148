package genai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"picprompter/internal/domain"
	"picprompter/internal/infra"
	"picprompter/internal/infra/safehttp"
	"picprompter/internal/media"
)

const (
	defaultModel = "gemini-2.5-flash-image"

	// maxReferenceBytes bounds remote reference downloads.
	maxReferenceBytes     = 20 << 20
	referenceFetchTimeout = 30 * time.Second

	generateFraming = "Generate a photorealistic interior design image based on this description. " +
		"Respond with an image; do not reply with text only. Description: "
	editFraming = "Modify this image: "
)

// Fixed sampling policy sent with every request.
var defaultGenerationConfig = geminiGenerationConfig{
	Temperature:        0.4,
	TopK:               32,
	TopP:               1,
	MaxOutputTokens:    4096,
	ResponseModalities: []string{"TEXT", "IMAGE"},
}

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Transport  string
	HTTPClient *http.Client
	// FetchClient downloads remote reference images. It defaults to a
	// client that refuses non-public addresses.
	FetchClient *http.Client
	Logger      *infra.Logger
}

// Client turns prompts and optional reference images into generateContent
// calls and maps every reply to a domain.GenerationResult.
type Client struct {
	model       string
	transport   transport
	fetchClient *http.Client
	logger      *infra.Logger
}

// NewClient constructs a Gemini client. Callers may provide a nil HTTP
// client; one without a global timeout is created since callers bound each
// request through its context.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("genai: api key is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: http.DefaultTransport}
	}

	fetchClient := opts.FetchClient
	if fetchClient == nil {
		fetchClient = safehttp.NewGuard().Client(referenceFetchTimeout)
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	model := opts.Model
	if model == "" {
		model = defaultModel
	}

	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}

	var t transport
	switch strings.ToLower(opts.Transport) {
	case "", infra.TransportREST:
		t = &restTransport{apiKey: apiKey, baseURL: baseURL, model: model, httpClient: httpClient}
	case infra.TransportSDK:
		sdk, err := newSDKTransport(ctx, apiKey, baseURL, model, httpClient)
		if err != nil {
			return nil, err
		}
		t = sdk
	default:
		return nil, fmt.Errorf("genai: unknown transport %q", opts.Transport)
	}

	return &Client{
		model:       model,
		transport:   t,
		fetchClient: fetchClient,
		logger:      logger,
	}, nil
}

// Model returns the configured Gemini model identifier.
func (c *Client) Model() string {
	return c.model
}

// Generate renders a new image from prompt, optionally conditioned on a
// reference image given as a data URI or a remote URL.
func (c *Client) Generate(ctx context.Context, prompt, referenceImage string) domain.GenerationResult {
	return c.run(ctx, "generate", generateFraming+strings.TrimSpace(prompt), referenceImage)
}

// Edit applies prompt to baseImage.
func (c *Client) Edit(ctx context.Context, baseImage, prompt string) domain.GenerationResult {
	if strings.TrimSpace(baseImage) == "" {
		return domain.Failed(domain.FailureTransportError, "no base image to edit")
	}
	return c.run(ctx, "edit", editFraming+strings.TrimSpace(prompt), baseImage)
}

func (c *Client) run(ctx context.Context, op, text, reference string) domain.GenerationResult {
	parts := []geminiPart{{Text: text}}
	if strings.TrimSpace(reference) != "" {
		inline, err := c.resolveReference(ctx, reference)
		if err != nil {
			c.logger.Warn().Err(err).Str("op", op).Msg("genai: reference image unavailable")
			return domain.Failed(domain.FailureTransportError, "could not load reference image: %v", err)
		}
		parts = append(parts, geminiPart{InlineData: inline})
	}

	cfg := defaultGenerationConfig
	payload := geminiGenerateContentRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &cfg,
	}

	started := time.Now()
	resp, err := c.transport.GenerateContent(ctx, payload)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("op", op).
			Str("model", c.model).
			Dur("elapsed", time.Since(started)).
			Msg("genai: request failed")
		return domain.Failed(domain.FailureTransportError, "%s", describeTransportError(err))
	}

	result := parseResponse(resp)
	event := c.logger.Debug()
	if result.Failure != nil {
		event = c.logger.Info().Str("kind", string(result.Failure.Kind))
	}
	event.
		Str("op", op).
		Str("model", c.model).
		Dur("elapsed", time.Since(started)).
		Msg("genai: response parsed")
	return result
}

// resolveReference turns a data URI or remote URL into an inline part. Data
// URI payloads are forwarded verbatim.
func (c *Client) resolveReference(ctx context.Context, ref string) (*geminiInlineData, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case media.IsDataURI(ref):
		uri, err := media.ParseDataURI(ref)
		if err != nil {
			return nil, err
		}
		return &geminiInlineData{MimeType: uri.MIMEType, Data: uri.Payload}, nil
	case media.IsRemoteURL(ref):
		data, mimeType, err := c.downloadFile(ctx, ref)
		if err != nil {
			return nil, err
		}
		return &geminiInlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}, nil
	default:
		return nil, fmt.Errorf("unsupported image reference")
	}
}

func (c *Client) downloadFile(ctx context.Context, uri string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.fetchClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, "", fmt.Errorf("fetch reference: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReferenceBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxReferenceBytes {
		return nil, "", fmt.Errorf("fetch reference: image exceeds %d bytes", maxReferenceBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("fetch reference: empty body")
	}
	mimeType, err := media.ReferenceMIME(resp.Header.Get("Content-Type"), data)
	if err != nil {
		return nil, "", fmt.Errorf("fetch reference: %w", err)
	}
	return data, mimeType, nil
}

func describeTransportError(err error) string {
	var se *statusError
	switch {
	case errors.As(err, &se):
		return se.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "the request timed out"
	case errors.Is(err, context.Canceled):
		return "the request was canceled"
	default:
		return err.Error()
	}
}
