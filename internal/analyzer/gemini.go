package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

const analysisSystemInstruction = `You extract structured sales context from a single chat message
sent to a cleantech business directory assistant. Classify sentiment as
positive, neutral or negative. List the cleantech sectors, technologies,
business needs and pain points the message mentions. Infer the sender's
role and the urgency (high, medium or empty when unclear). Use empty
strings and empty arrays when the message gives no signal.`

var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"sentiment":      {Type: genai.TypeString, Description: "One of: positive, neutral, negative."},
		"topics":         {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "Key topics mentioned in the message."},
		"sectors":        {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "Cleantech sectors of interest."},
		"technologies":   {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "Specific technologies mentioned."},
		"business_needs": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "Business needs such as suppliers, funding, partnerships."},
		"pain_points":    {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "Challenges the sender is facing."},
		"urgency":        {Type: genai.TypeString, Description: "high, medium, or empty when unclear."},
		"role":           {Type: genai.TypeString, Description: "Inferred role of the sender. Empty if unknown."},
	},
	Required: []string{"sentiment", "topics", "sectors", "technologies", "business_needs", "pain_points", "urgency", "role"},
}

// GeminiConfig holds settings for the Gemini-backed analyzer.
type GeminiConfig struct {
	APIKey     string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
}

// GeminiAnalyzer extracts message context with the Gemini API in JSON
// schema mode.
type GeminiAnalyzer struct {
	client     *genai.Client
	log        *slog.Logger
	model      string
	maxRetries int
	retryDelay time.Duration
}

// NewGeminiAnalyzer creates a Gemini-backed analyzer. The API key is required.
func NewGeminiAnalyzer(ctx context.Context, cfg GeminiConfig, log *slog.Logger) (*GeminiAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger := log.With("component", "gemini_analyzer")
	logger.Info("Gemini analyzer initialized", "model", cfg.Model)
	return &GeminiAnalyzer{
		client:     client,
		log:        logger,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// Analyze asks Gemini for a structured analysis of the message.
func (a *GeminiAnalyzer) Analyze(ctx context.Context, message string) (*Analysis, error) {
	contents := []*genai.Content{genai.NewContentFromText(message, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: analysisSystemInstruction}}},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    analysisSchema,
	}

	resp, err := a.generateContentWithRetries(ctx, contents, cfg)
	if err != nil {
		a.log.WarnContext(ctx, "Gemini analysis failed", "error", err)
		return nil, fmt.Errorf("gemini analysis failed: %w", err)
	}

	jsonText, err := extractTextFromResponse(resp)
	if err != nil {
		a.log.WarnContext(ctx, "Failed to extract analysis text from Gemini response", "error", err)
		return nil, fmt.Errorf("failed to extract analysis response: %w", err)
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(jsonText), &analysis); err != nil {
		a.log.WarnContext(ctx, "Failed to parse analysis JSON from Gemini response",
			"error", err, "response_text", jsonText)
		return nil, fmt.Errorf("invalid analysis JSON received: %w", err)
	}

	switch analysis.Sentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
	default:
		analysis.Sentiment = SentimentNeutral
	}

	return &analysis, nil
}

func (a *GeminiAnalyzer) generateContentWithRetries(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= a.maxRetries; i++ {
		resp, err = a.client.Models.GenerateContent(ctx, a.model, contents, cfg)
		if err == nil {
			return resp, nil
		}

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) {
			if i < a.maxRetries {
				a.log.InfoContext(ctx, "Retrying Gemini API call due to retriable APIError",
					"delay", a.retryDelay, "code", apiErr.Code)
				time.Sleep(a.retryDelay)
				continue
			}
			return nil, fmt.Errorf("gemini API call failed after %d retries (APIError code %d): %w",
				a.maxRetries, apiErr.Code, err)
		}

		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	return nil, err
}

func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("empty response from gemini")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", errors.New("gemini response candidate has no content")
	}
	return candidate.Content.Parts[0].Text, nil
}
