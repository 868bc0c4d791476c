// Package trends summarizes stored sentiment per market over day windows.
package trends

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/mfenderov/estate-pulse/pkg/models"
)

// TopTopics is the number of topics reported per trend.
const TopTopics = 5

// Source is the read access trends needs.
type Source interface {
	ListMarkets(ctx context.Context) ([]models.Market, error)
	MarketSentiments(ctx context.Context, market string, since, until time.Time) ([]models.Sentiment, error)
}

// TopicCount is a topic and how often it appeared.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// Trend is a market's sentiment over the last Days days.
type Trend struct {
	Market        string       `json:"market"`
	Region        string       `json:"region"`
	Days          int          `json:"days"`
	AvgSentiment  float64      `json:"avg_sentiment"`
	Change        float64      `json:"change"` // vs the preceding window of equal length
	ArticleCount  int          `json:"article_count"`
	AvgConfidence float64      `json:"avg_confidence"`
	TopTopics     []TopicCount `json:"top_topics"`
}

// DailyPoint is one day of a market's history.
type DailyPoint struct {
	Date         string  `json:"date"` // YYYY-MM-DD, UTC
	AvgSentiment float64 `json:"avg_sentiment"`
	Count        int     `json:"count"`
}

// Service computes trends from a Source.
type Service struct {
	src Source
	now func() time.Time
}

// New creates a Service.
func New(src Source) *Service {
	return &Service{src: src, now: time.Now}
}

func (s *Service) lookup(ctx context.Context, market string) (models.Market, bool, error) {
	markets, err := s.src.ListMarkets(ctx)
	if err != nil {
		return models.Market{}, false, fmt.Errorf("listing markets: %w", err)
	}
	for _, m := range markets {
		if strings.EqualFold(m.Name, market) {
			return m, true, nil
		}
	}
	return models.Market{}, false, nil
}

// Trend returns the trend for market. An unknown market yields a zero trend
// with an empty region.
func (s *Service) Trend(ctx context.Context, market string, days int) (Trend, error) {
	m, ok, err := s.lookup(ctx, market)
	if err != nil {
		return Trend{}, err
	}
	if !ok {
		return Trend{Market: market, Days: days, TopTopics: []TopicCount{}}, nil
	}
	return s.trend(ctx, m, days)
}

func (s *Service) trend(ctx context.Context, m models.Market, days int) (Trend, error) {
	window := time.Duration(days) * 24 * time.Hour
	cutoff := s.now().Add(-window)

	current, err := s.src.MarketSentiments(ctx, m.Name, cutoff, time.Time{})
	if err != nil {
		return Trend{}, fmt.Errorf("loading sentiments for %s: %w", m.Name, err)
	}
	previous, err := s.src.MarketSentiments(ctx, m.Name, cutoff.Add(-window), cutoff)
	if err != nil {
		return Trend{}, fmt.Errorf("loading previous sentiments for %s: %w", m.Name, err)
	}

	avg, conf := averages(current)
	prevAvg, _ := averages(previous)

	articles := make(map[string]struct{}, len(current))
	for _, st := range current {
		articles[st.ArticleID] = struct{}{}
	}

	return Trend{
		Market:        m.Name,
		Region:        m.Region,
		Days:          days,
		AvgSentiment:  round(avg, 3),
		Change:        round(avg-prevAvg, 3),
		ArticleCount:  len(articles),
		AvgConfidence: round(conf, 2),
		TopTopics:     topTopics(current, TopTopics),
	}, nil
}

// History returns per-day average sentiment for market, oldest first.
func (s *Service) History(ctx context.Context, market string, days int) ([]DailyPoint, error) {
	m, ok, err := s.lookup(ctx, market)
	if err != nil || !ok {
		return []DailyPoint{}, err
	}

	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	sentiments, err := s.src.MarketSentiments(ctx, m.Name, cutoff, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("loading sentiments for %s: %w", m.Name, err)
	}

	type acc struct {
		sum   float64
		count int
	}
	byDay := make(map[string]*acc)
	for _, st := range sentiments {
		day := st.ExtractedAt.UTC().Format(time.DateOnly)
		a, ok := byDay[day]
		if !ok {
			a = &acc{}
			byDay[day] = a
		}
		a.sum += st.Score
		a.count++
	}

	points := make([]DailyPoint, 0, len(byDay))
	for day, a := range byDay {
		points = append(points, DailyPoint{Date: day, AvgSentiment: round(a.sum/float64(a.count), 3), Count: a.count})
	}
	slices.SortFunc(points, func(a, b DailyPoint) int { return cmp.Compare(a.Date, b.Date) })
	return points, nil
}

// AllTrends returns a trend for every stored market, most articles first.
func (s *Service) AllTrends(ctx context.Context, days int) ([]Trend, error) {
	markets, err := s.src.ListMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing markets: %w", err)
	}

	out := make([]Trend, 0, len(markets))
	for _, m := range markets {
		t, err := s.trend(ctx, m, days)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	slices.SortStableFunc(out, func(a, b Trend) int { return cmp.Compare(b.ArticleCount, a.ArticleCount) })
	return out, nil
}

func averages(sentiments []models.Sentiment) (score, confidence float64) {
	if len(sentiments) == 0 {
		return 0, 0
	}
	for _, st := range sentiments {
		score += st.Score
		confidence += st.Confidence
	}
	n := float64(len(sentiments))
	return score / n, confidence / n
}

func topTopics(sentiments []models.Sentiment, n int) []TopicCount {
	counts := make(map[string]int)
	var order []string
	for _, st := range sentiments {
		for _, topic := range st.Topics {
			if _, seen := counts[topic]; !seen {
				order = append(order, topic)
			}
			counts[topic]++
		}
	}

	out := make([]TopicCount, len(order))
	for i, topic := range order {
		out[i] = TopicCount{Topic: topic, Count: counts[topic]}
	}
	// Stable so ties keep first-seen order.
	slices.SortStableFunc(out, func(a, b TopicCount) int { return cmp.Compare(b.Count, a.Count) })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
