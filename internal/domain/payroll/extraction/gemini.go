package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const ocrPrompt = "Transcribe all text in the attached document exactly as printed, preserving line breaks. " +
	"Return a JSON object {\"text\": string, \"language\": ISO 639-1 code}. " +
	"Return ONLY valid raw JSON.\n"

// GeminiClient runs extraction and OCR calls against the Gemini API.
type GeminiClient struct {
	client   *genai.Client
	ocrModel string
}

// NewGeminiClient creates a client for the Gemini developer API.
func NewGeminiClient(ctx context.Context, apiKey, ocrModel string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, ErrClientNotConfigured
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if ocrModel == "" {
		ocrModel = DefaultModelName
	}
	return &GeminiClient{client: client, ocrModel: ocrModel}, nil
}

// Generate sends the prompt plus the inline document (or recognized text) and
// returns the raw response text.
func (g *GeminiClient) Generate(ctx context.Context, req VisionRequest) (string, error) {
	parts := []*genai.Part{{Text: req.Prompt}}
	if len(req.Document) > 0 {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: req.MIMEType, Data: req.Document},
		})
	}
	if req.Text != "" {
		parts = append(parts, &genai.Part{Text: req.Text})
	}

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	rawText := resp.Text()
	if strings.TrimSpace(rawText) == "" {
		return "", ErrEmptyResponse
	}
	return rawText, nil
}

// Recognize transcribes the document text. It returns nil when the model found none.
func (g *GeminiClient) Recognize(ctx context.Context, doc []byte, mimeType string) (*OCRText, error) {
	raw, err := g.Generate(ctx, VisionRequest{
		Model:    g.ocrModel,
		Prompt:   ocrPrompt,
		Document: doc,
		MIMEType: mimeType,
	})
	if errors.Is(err, ErrEmptyResponse) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &out); err != nil {
		return nil, fmt.Errorf("unmarshal OCR response: %w", err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return nil, nil
	}
	return &OCRText{Text: out.Text, Language: out.Language}, nil
}
