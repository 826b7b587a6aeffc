package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"retro-improver-backend/internal/artifact"
	"retro-improver-backend/internal/jobs"
	"retro-improver-backend/internal/models"
)

const (
	restoreInstruction = `Act as a high-end photo restoration AI. Restore this image to look like a modern iPhone 15 Pro photo. ` +
		`Enhance colors, remove scratches, fix fading, improve sharpness, and make it look professionally restored ` +
		`while maintaining the original character and authenticity. Return only the restored image.`

	promptsInstruction = `You are a creative AI assistant. Analyze this restored vintage photo and generate 4 different, ` +
		`creative animation prompts that would bring this photo to life. Each prompt should describe a cinematic, ` +
		`smooth motion that fits the scene. Return only a JSON array of 4 objects of the form ` +
		`{"en": "<English prompt>", "ru": "<the same prompt in Russian>"}, no additional text.`
)

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	ResponseMimeType   string   `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

func imageRequest(instruction string, image []byte, mimeType string, cfg *generationConfig) generateRequest {
	return generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: instruction},
				{InlineData: &inlineData{MimeType: mimeOrDefault(image, mimeType), Data: base64.StdEncoding.EncodeToString(image)}},
			},
		}},
		GenerationConfig: cfg,
	}
}

func (r *generateResponse) parts() ([]part, error) {
	if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w: request blocked: %s", jobs.ErrProviderUnavailable, r.PromptFeedback.BlockReason)
	}
	if len(r.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates", jobs.ErrMalformedResponse)
	}
	return r.Candidates[0].Content.Parts, nil
}

// Restore implements jobs.Restorer.
func (c *Client) Restore(ctx context.Context, image []byte, mimeType string) (*artifact.Payload, error) {
	req := imageRequest(restoreInstruction, image, mimeType, &generationConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})

	var resp generateResponse
	if err := c.do(ctx, http.MethodPost, c.modelURL(c.restoreModel, "generateContent"), req, &resp); err != nil {
		return nil, err
	}

	parts, err := resp.parts()
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		if p.InlineData == nil || p.InlineData.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: image is not base64: %v", jobs.ErrMalformedResponse, err)
		}
		return &artifact.Payload{Data: data, MimeType: p.InlineData.MimeType}, nil
	}
	return nil, fmt.Errorf("%w: response has no image part", jobs.ErrMalformedResponse)
}

// WritePrompts implements jobs.PromptWriter.
func (c *Client) WritePrompts(ctx context.Context, image []byte, mimeType string) ([]models.BilingualPrompt, error) {
	req := imageRequest(promptsInstruction, image, mimeType, &generationConfig{
		ResponseMimeType: "application/json",
	})

	var resp generateResponse
	if err := c.do(ctx, http.MethodPost, c.modelURL(c.promptModel, "generateContent"), req, &resp); err != nil {
		return nil, err
	}

	parts, err := resp.parts()
	if err != nil {
		return nil, err
	}
	var text strings.Builder
	for _, p := range parts {
		text.WriteString(p.Text)
	}

	var prompts []models.BilingualPrompt
	if err := json.Unmarshal([]byte(stripFence(text.String())), &prompts); err != nil {
		return nil, fmt.Errorf("%w: prompts are not a JSON array: %v", jobs.ErrMalformedResponse, err)
	}
	for i := range prompts {
		prompts[i].EN = strings.TrimSpace(prompts[i].EN)
		prompts[i].RU = strings.TrimSpace(prompts[i].RU)
	}
	return prompts, nil
}

// stripFence removes a surrounding ```json fence some models add.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func mimeOrDefault(data []byte, mimeType string) string {
	if mimeType != "" {
		return mimeType
	}
	return http.DetectContentType(data)
}
