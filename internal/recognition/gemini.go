package recognition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini serves the fast and accurate tiers with two Google Gemini models
// sharing one client.
type Gemini struct {
	client        *genai.Client
	fastModel     *genai.GenerativeModel
	accurateModel *genai.GenerativeModel
}

// NewGemini creates a Gemini recognizer. Empty model names fall back to
// sensible defaults.
func NewGemini(apiKey, fastModel, accurateModel string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if fastModel == "" {
		fastModel = "gemini-2.5-flash"
	}
	if accurateModel == "" {
		accurateModel = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:        client,
		fastModel:     client.GenerativeModel(fastModel),
		accurateModel: client.GenerativeModel(accurateModel),
	}, nil
}

// Recognize extracts manifest data from page images. TierStable is not
// served here; the tiered front-end routes it to Ollama.
func (g *Gemini) Recognize(ctx context.Context, pages []Page, tier Tier) (*ManifestData, error) {
	model := g.fastModel
	if tier == TierAccurate {
		model = g.accurateModel
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	parts := make([]genai.Part, 0, len(pages)+1)
	for _, page := range pages {
		pngData, _, _, err := preparePageImage(page.Data, page.MimeType)
		if err != nil {
			return nil, err
		}
		// genai.ImageData takes the format suffix, not a MIME type; after
		// preparePageImage everything is PNG.
		parts = append(parts, genai.ImageData("png", pngData))
	}
	parts = append(parts, genai.Text(manifestScanPrompt))

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	data, err := parseManifestJSON(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("parsing manifest data: %w", err)
	}
	return data, nil
}

// Close closes the Gemini client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
