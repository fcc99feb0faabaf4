package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/tsxetra/audio-transcription/internal/ai"
	"github.com/tsxetra/audio-transcription/pkg/logger"
)

// TranscribeFile sends the whole file inline to generateContent and returns the text
func (c *Client) TranscribeFile(ctx context.Context, req ai.FileRequest) (string, error) {
	if len(req.Data) == 0 {
		return "", fmt.Errorf("empty file")
	}
	if req.Model == "" {
		return "", fmt.Errorf("file model is required")
	}

	parts := []*genai.Part{
		genai.NewPartFromText(req.Prompt),
		genai.NewPartFromBytes(req.Data, req.MIMEType),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	c.logger.Info("Requesting file transcription",
		logger.String("name", req.Name),
		logger.String("mime_type", req.MIMEType),
		logger.Int("size", len(req.Data)),
		logger.String("model", req.Model))

	resp, err := c.genai.Models.GenerateContent(ctx, req.Model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate content failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("no content in gemini response")
	}
	return text, nil
}
