package models

import "time"

// CatchAllMarket is the whitelist entry used when no specific city is named.
const CatchAllMarket = "National"

// Article is a persisted news article.
type Article struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Content     string     `json:"content,omitempty"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ContentHash string     `json:"content_hash"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Market is a whitelisted geographic market.
type Market struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

// Sentiment is one market-level sentiment reading for an article.
type Sentiment struct {
	ID          string    `json:"id"`
	ArticleID   string    `json:"article_id"`
	MarketID    int64     `json:"market_id"`
	Market      string    `json:"market,omitempty"`
	Score       float64   `json:"score"`
	Confidence  float64   `json:"confidence"`
	Topics      []string  `json:"topics"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Alert types and severities.
const (
	AlertSentimentShift = "sentiment_shift"
	SeverityHigh        = "high"
	SeverityMedium      = "medium"
)

// Alert flags an anomalous sentiment shift in a market.
type Alert struct {
	ID           string    `json:"id"`
	MarketID     int64     `json:"market_id"`
	Market       string    `json:"market,omitempty"`
	ArticleID    string    `json:"article_id"`
	Type         string    `json:"alert_type"`
	Severity     string    `json:"severity"`
	Message      string    `json:"message"`
	TriggeredAt  time.Time `json:"triggered_at"`
	Acknowledged bool      `json:"acknowledged"`
}

// Extraction is one validated (market, sentiment) tuple produced by the
// sentiment extractor.
type Extraction struct {
	Market     string   `json:"market"`
	Sentiment  float64  `json:"sentiment"`
	Confidence float64  `json:"confidence"`
	Topics     []string `json:"topics"`
}

// NeutralExtraction is the fallback record for the catch-all market.
func NeutralExtraction() Extraction {
	return Extraction{Market: CatchAllMarket, Sentiment: 0, Confidence: 0.2, Topics: []string{}}
}

// Clamp bounds sentiment to [-1,1] and confidence to [0,1].
func (e Extraction) Clamp() Extraction {
	e.Sentiment = clamp(e.Sentiment, -1, 1)
	e.Confidence = clamp(e.Confidence, 0, 1)
	return e
}

func clamp(v, lo, hi float64) float64 {
	if v != v { // NaN
		return 0
	}
	return max(lo, min(hi, v))
}

// SearchResult is a chunk returned by semantic search.
type SearchResult struct {
	Content   string  `json:"content"`
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	ArticleID string  `json:"article_id"`
	Relevance float64 `json:"relevance"`
}
