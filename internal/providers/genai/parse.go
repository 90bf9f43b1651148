package genai

import (
	"strings"

	"picprompter/internal/domain"
	"picprompter/internal/media"
)

const textOnlyMessage = "The model returned text instead of an image. Try rephrasing your prompt with more specific descriptive terms (materials, colours, lighting, furniture)."

var safetyFinishReasons = map[string]struct{}{
	"SAFETY":                   {},
	"IMAGE_SAFETY":             {},
	"PROHIBITED_CONTENT":       {},
	"IMAGE_PROHIBITED_CONTENT": {},
	"BLOCKLIST":                {},
	"SPII":                     {},
}

// parseResponse maps a normalized reply to exactly one result. An inline
// image anywhere in the reply wins, then an image file reference, then
// blocks, then text.
func parseResponse(resp *geminiGenerateContentResponse) domain.GenerationResult {
	if resp == nil {
		return domain.Failed(domain.FailureNoImageReturned, "empty response from model")
	}

	if ref := firstInlineImage(resp); ref != "" {
		return domain.Succeeded(ref)
	}
	if uri := firstFileImage(resp); uri != "" {
		return domain.Succeeded(uri)
	}

	var texts []string
	blockedReason := ""
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.Thought {
				continue
			}
			if text := strings.TrimSpace(part.Text); text != "" {
				texts = append(texts, text)
			}
		}
		if _, ok := safetyFinishReasons[strings.ToUpper(candidate.FinishReason)]; ok && blockedReason == "" {
			blockedReason = candidate.FinishReason
		}
	}

	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		msg := fb.BlockReasonMessage
		if msg == "" {
			msg = "the prompt was blocked (" + fb.BlockReason + ")"
		}
		return domain.Failed(domain.FailureBlockedPrompt, "%s", msg)
	}
	if blockedReason != "" {
		return domain.Failed(domain.FailureBlockedPrompt, "generation stopped by safety filters (%s)", blockedReason)
	}
	if len(texts) > 0 {
		return domain.Failed(domain.FailureTextOnlyResponse, "%s", textOnlyMessage)
	}
	return domain.Failed(domain.FailureNoImageReturned, "the model did not return an image")
}

func firstInlineImage(resp *geminiGenerateContentResponse) string {
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			inline := part.InlineData
			if part.Thought || inline == nil || inline.Data == "" {
				continue
			}
			mimeType := inline.MimeType
			if mimeType == "" {
				mimeType = "image/png"
			}
			return media.FormatDataURI(mimeType, inline.Data)
		}
	}
	return ""
}

func firstFileImage(resp *geminiGenerateContentResponse) string {
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			file := part.FileData
			if part.Thought || file == nil || file.FileURI == "" {
				continue
			}
			if media.IsImageMIME(file.MimeType) {
				return file.FileURI
			}
		}
	}
	return ""
}
