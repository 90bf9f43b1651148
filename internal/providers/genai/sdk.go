package genai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	gsdk "google.golang.org/genai"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// sdkTransport routes the same request through the official Go SDK. The
// normalized wire types stay the single input to the response parser.
type sdkTransport struct {
	client *gsdk.Client
	model  string
}

func newSDKTransport(ctx context.Context, apiKey, baseURL, model string, httpClient *http.Client) (*sdkTransport, error) {
	cfg := &gsdk.ClientConfig{
		APIKey:     apiKey,
		Backend:    gsdk.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if base := strings.TrimRight(baseURL, "/"); base != "" && base != defaultBaseURL {
		host, version := splitAPIVersion(base)
		cfg.HTTPOptions = gsdk.HTTPOptions{BaseURL: host + "/", APIVersion: version}
	}
	client, err := gsdk.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini sdk client: %w", err)
	}
	return &sdkTransport{client: client, model: model}, nil
}

// splitAPIVersion separates "https://host/v1beta" into host and version.
func splitAPIVersion(base string) (string, string) {
	idx := strings.LastIndex(base, "/")
	if idx <= len("https://") {
		return base, ""
	}
	last := base[idx+1:]
	if strings.HasPrefix(last, "v1") {
		return base[:idx], last
	}
	return base, ""
}

func (t *sdkTransport) GenerateContent(ctx context.Context, req geminiGenerateContentRequest) (*geminiGenerateContentResponse, error) {
	contents := make([]*gsdk.Content, 0, len(req.Contents))
	for _, c := range req.Contents {
		content := &gsdk.Content{Role: c.Role}
		for _, p := range c.Parts {
			switch {
			case p.InlineData != nil:
				data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("decode inline data: %w", err)
				}
				content.Parts = append(content.Parts, &gsdk.Part{InlineData: &gsdk.Blob{MIMEType: p.InlineData.MimeType, Data: data}})
			case p.FileData != nil:
				content.Parts = append(content.Parts, &gsdk.Part{FileData: &gsdk.FileData{MIMEType: p.FileData.MimeType, FileURI: p.FileData.FileURI}})
			default:
				content.Parts = append(content.Parts, &gsdk.Part{Text: p.Text})
			}
		}
		contents = append(contents, content)
	}

	var cfg *gsdk.GenerateContentConfig
	if gc := req.GenerationConfig; gc != nil {
		cfg = &gsdk.GenerateContentConfig{
			Temperature:        gsdk.Ptr(gc.Temperature),
			TopP:               gsdk.Ptr(gc.TopP),
			TopK:               gsdk.Ptr(float32(gc.TopK)),
			MaxOutputTokens:    int32(gc.MaxOutputTokens),
			ResponseModalities: gc.ResponseModalities,
		}
	}

	resp, err := t.client.Models.GenerateContent(ctx, t.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("invoke gemini sdk: %w", err)
	}
	return fromSDKResponse(resp), nil
}

func fromSDKResponse(resp *gsdk.GenerateContentResponse) *geminiGenerateContentResponse {
	out := &geminiGenerateContentResponse{}
	if resp == nil {
		return out
	}
	if fb := resp.PromptFeedback; fb != nil {
		out.PromptFeedback = &geminiPromptFeedback{
			BlockReason:        string(fb.BlockReason),
			BlockReasonMessage: fb.BlockReasonMessage,
		}
	}
	for _, c := range resp.Candidates {
		if c == nil {
			continue
		}
		candidate := geminiCandidate{FinishReason: string(c.FinishReason)}
		if c.Content != nil {
			candidate.Content.Role = c.Content.Role
			for _, p := range c.Content.Parts {
				if p == nil {
					continue
				}
				part := geminiPart{Text: p.Text, Thought: p.Thought}
				if p.InlineData != nil && len(p.InlineData.Data) > 0 {
					part.InlineData = &geminiInlineData{
						MimeType: p.InlineData.MIMEType,
						Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
					}
				}
				if p.FileData != nil {
					part.FileData = &geminiFileData{MimeType: p.FileData.MIMEType, FileURI: p.FileData.FileURI}
				}
				candidate.Content.Parts = append(candidate.Content.Parts, part)
			}
		}
		out.Candidates = append(out.Candidates, candidate)
	}
	return out
}

var _ transport = (*sdkTransport)(nil)
