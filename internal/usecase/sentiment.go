package usecase

import (
	"regexp"
	"strings"

	"streamchat/internal/domain"
)

var sentimentPattern = regexp.MustCompile(`Sentiment:\s*(\w+)`)

// ExtractSentiment reads the first "Sentiment: <word>" marker in text.
// Matching of the word is case-insensitive; a missing marker or an unknown
// word yields Neutral.
func ExtractSentiment(text string) domain.Sentiment {
	m := sentimentPattern.FindStringSubmatch(text)
	if m == nil {
		return domain.SentimentNeutral
	}
	switch strings.ToLower(m[1]) {
	case "positive":
		return domain.SentimentPositive
	case "negative":
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}
