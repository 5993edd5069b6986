package analyzer

import (
	"context"
	"strings"
)

// KeywordAnalyzer extracts context with static keyword tables. It is the
// default analyzer and the fallback when the LLM analyzer errors out.
type KeywordAnalyzer struct{}

// NewKeywordAnalyzer returns a keyword-table analyzer.
func NewKeywordAnalyzer() *KeywordAnalyzer {
	return &KeywordAnalyzer{}
}

var positiveWords = []string{
	"great", "excellent", "perfect", "amazing", "helpful",
	"thank you", "thanks", "good", "yes", "interested",
}

var negativeWords = []string{
	"bad", "terrible", "useless", "disappointed", "frustrated",
	"not interested", "waste",
}

var sectorKeywords = map[string][]string{
	"renewable energy": {"solar", "wind", "renewable", "clean energy", "green energy", "photovoltaic", "turbine"},
	"water treatment":  {"water", "wastewater", "filtration", "purification", "desalination"},
	"waste management": {"waste", "recycling", "circular economy", "disposal", "composting"},
	"smart cities":     {"smart city", "iot", "urban", "infrastructure", "sensors"},
	"agriculture":      {"agriculture", "farming", "agtech", "precision farming", "crops"},
	"transportation":   {"electric vehicle", "ev charging", "mobility", "transportation", "logistics"},
}

var needKeywords = map[string][]string{
	"suppliers":    {"supplier", "vendor", "procurement", "sourcing", "buy", "purchase"},
	"partnerships": {"partner", "collaboration", "joint venture", "alliance", "work together"},
	"funding":      {"funding", "investment", "investor", "capital", "finance"},
	"technology":   {"technology", "solution", "innovation", "research", "development"},
	"networking":   {"network", "connect", "meet", "introduction"},
}

var roleKeywords = []struct {
	role     string
	keywords []string
}{
	{"CEO", []string{"ceo", "chief executive", "founder", "president"}},
	{"CTO", []string{"cto", "chief technology", "technical director"}},
	{"Procurement Manager", []string{"procurement", "purchasing", "buyer", "sourcing"}},
	{"Investor", []string{"investor", "investment", "venture capital"}},
	{"Consultant", []string{"consultant", "consulting", "advisor"}},
	{"Engineer", []string{"engineer", "developer"}},
}

var painPointKeywords = map[string][]string{
	"cost":        {"expensive", "cost", "budget", "affordable"},
	"complexity":  {"complex", "complicated", "difficult", "hard to understand"},
	"time":        {"time-consuming", "slow", "takes too long", "delay"},
	"reliability": {"unreliable", "trust", "proven", "track record"},
	"scalability": {"scale", "growth", "expand"},
}

var urgentKeywords = []string{"urgent", "asap", "immediately", "quickly", "deadline", "rush"}

var soonKeywords = []string{"this week", "this month", "soon", "within"}

// Analyze never fails; the error return satisfies the Analyzer interface.
func (a *KeywordAnalyzer) Analyze(_ context.Context, message string) (*Analysis, error) {
	lower := strings.ToLower(message)
	analysis := Default()

	hasPositive := containsAny(lower, positiveWords)
	hasNegative := containsAny(lower, negativeWords)
	switch {
	case hasPositive && !hasNegative:
		analysis.Sentiment = SentimentPositive
	case hasNegative && !hasPositive:
		analysis.Sentiment = SentimentNegative
	}

	for sector, keywords := range sectorKeywords {
		if containsAny(lower, keywords) {
			analysis.Sectors = append(analysis.Sectors, sector)
		}
	}
	for need, keywords := range needKeywords {
		if containsAny(lower, keywords) {
			analysis.BusinessNeeds = append(analysis.BusinessNeeds, need)
		}
	}
	for pain, keywords := range painPointKeywords {
		if containsAny(lower, keywords) {
			analysis.PainPoints = append(analysis.PainPoints, pain)
		}
	}

	for _, rk := range roleKeywords {
		if containsAny(lower, rk.keywords) {
			analysis.Role = rk.role
			break
		}
	}

	switch {
	case containsAny(lower, urgentKeywords):
		analysis.Urgency = "high"
	case containsAny(lower, soonKeywords):
		analysis.Urgency = "medium"
	}

	// Detected sectors double as per-message topics for the raw log.
	analysis.Topics = append(analysis.Topics, analysis.Sectors...)

	return analysis, nil
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
