// Package analyzer extracts structured context from inbound chat messages:
// sentiment, sectors, technologies, business needs, pain points, urgency,
// and the sender's likely role. A Gemini-backed implementation is used when
// an API key is configured; the keyword analyzer is both the fallback and
// the default. Analysis failures are never fatal to message handling.
package analyzer

import "context"

// Sentiment values attached to raw messages.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Analysis is the structured context extracted from one message.
type Analysis struct {
	Sentiment     string   `json:"sentiment"`
	Topics        []string `json:"topics"`
	Sectors       []string `json:"sectors"`
	Technologies  []string `json:"technologies"`
	BusinessNeeds []string `json:"business_needs"`
	PainPoints    []string `json:"pain_points"`
	Urgency       string   `json:"urgency"`
	Role          string   `json:"role"`
}

// Default returns the neutral analysis used when extraction fails.
func Default() *Analysis {
	return &Analysis{Sentiment: SentimentNeutral}
}

// Analyzer produces an Analysis for a message.
type Analyzer interface {
	Analyze(ctx context.Context, message string) (*Analysis, error)
}

// WithFallback wraps a primary analyzer with a fallback used on error.
type WithFallback struct {
	Primary  Analyzer
	Fallback Analyzer
}

// Analyze tries the primary analyzer and falls back on any error. The
// fallback (keyword analyzer) cannot fail, so the returned error is nil.
func (a *WithFallback) Analyze(ctx context.Context, message string) (*Analysis, error) {
	if a.Primary != nil {
		if analysis, err := a.Primary.Analyze(ctx, message); err == nil {
			return analysis, nil
		}
	}
	return a.Fallback.Analyze(ctx, message)
}
