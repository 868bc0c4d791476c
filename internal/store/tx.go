package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mfenderov/estate-pulse/pkg/models"
)

// Tx is the set of writes and reads performed while persisting one article.
// Everything done through a Tx commits or rolls back together.
type Tx interface {
	ArticleExists(ctx context.Context, url, fingerprint string) (bool, error)
	CreateArticle(ctx context.Context, article *models.Article) error
	GetOrCreateMarket(ctx context.Context, name, region string) (models.Market, error)
	CreateSentiment(ctx context.Context, sentiment *models.Sentiment) error
	CreateAlert(ctx context.Context, alert *models.Alert) error
	MarketScores(ctx context.Context, market string, since time.Time) ([]float64, error)
}

type pgTx struct {
	q querier
}

// ArticleExists reports whether an article with the same URL or content
// fingerprint is already stored.
func (t *pgTx) ArticleExists(ctx context.Context, url, fingerprint string) (bool, error) {
	b := psql.Select("1").From("articles").
		Where(sq.Or{sq.Eq{"url": url}, sq.Eq{"content_hash": fingerprint}}).
		Limit(1)
	row, err := queryRow(ctx, t.q, b)
	if err != nil {
		return false, err
	}
	var one int
	switch err := row.Scan(&one); {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("checking article: %w", err)
	}
	return true, nil
}

// CreateArticle inserts article, assigning ID and CreatedAt when unset.
// A URL or fingerprint collision returns ErrDuplicate.
func (t *pgTx) CreateArticle(ctx context.Context, article *models.Article) error {
	if article.ID == "" {
		article.ID = uuid.NewString()
	}
	if article.CreatedAt.IsZero() {
		article.CreatedAt = time.Now().UTC()
	}

	b := psql.Insert("articles").
		Columns("id", "url", "title", "content", "source", "published_at", "content_hash", "created_at").
		Values(article.ID, article.URL, article.Title, article.Content, article.Source,
			nullTime(article.PublishedAt), article.ContentHash, article.CreatedAt)
	if _, err := exec(ctx, t.q, b); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("article %s: %w", article.URL, ErrDuplicate)
		}
		return fmt.Errorf("inserting article: %w", err)
	}
	return nil
}

// GetOrCreateMarket returns the market row for name, inserting it with
// region if absent.
func (t *pgTx) GetOrCreateMarket(ctx context.Context, name, region string) (models.Market, error) {
	ins := psql.Insert("markets").Columns("name", "region").Values(name, region).
		Suffix("ON CONFLICT (name) DO NOTHING")
	if _, err := exec(ctx, t.q, ins); err != nil {
		return models.Market{}, fmt.Errorf("inserting market: %w", err)
	}

	row, err := queryRow(ctx, t.q, psql.Select("id", "name", "region").From("markets").Where(sq.Eq{"name": name}))
	if err != nil {
		return models.Market{}, err
	}
	var m models.Market
	if err := row.Scan(&m.ID, &m.Name, &m.Region); err != nil {
		return models.Market{}, fmt.Errorf("loading market %s: %w", name, err)
	}
	return m, nil
}

// CreateSentiment inserts sentiment, assigning ID and ExtractedAt when unset.
func (t *pgTx) CreateSentiment(ctx context.Context, s *models.Sentiment) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.ExtractedAt.IsZero() {
		s.ExtractedAt = time.Now().UTC()
	}
	topics := s.Topics
	if topics == nil {
		topics = []string{}
	}

	b := psql.Insert("sentiments").
		Columns("id", "article_id", "market_id", "score", "confidence", "topics", "extracted_at").
		Values(s.ID, s.ArticleID, s.MarketID, s.Score, s.Confidence, pq.Array(topics), s.ExtractedAt)
	if _, err := exec(ctx, t.q, b); err != nil {
		return fmt.Errorf("inserting sentiment: %w", err)
	}
	return nil
}

// CreateAlert inserts alert, assigning ID and TriggeredAt when unset.
func (t *pgTx) CreateAlert(ctx context.Context, a *models.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.TriggeredAt.IsZero() {
		a.TriggeredAt = time.Now().UTC()
	}

	var articleID sql.NullString
	if a.ArticleID != "" {
		articleID = sql.NullString{String: a.ArticleID, Valid: true}
	}
	b := psql.Insert("alerts").
		Columns("id", "market_id", "article_id", "alert_type", "severity", "message", "triggered_at", "acknowledged").
		Values(a.ID, a.MarketID, articleID, a.Type, a.Severity, a.Message, a.TriggeredAt, a.Acknowledged)
	if _, err := exec(ctx, t.q, b); err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

// MarketScores returns sentiment scores for market extracted at or after
// since, including rows written earlier in this transaction.
func (t *pgTx) MarketScores(ctx context.Context, market string, since time.Time) ([]float64, error) {
	return marketScores(ctx, t.q, market, since)
}

func marketScores(ctx context.Context, q querier, market string, since time.Time) ([]float64, error) {
	b := psql.Select("s.score").
		From("sentiments s").
		Join("markets m ON m.id = s.market_id").
		Where(sq.Eq{"m.name": market}).
		Where(sq.GtOrEq{"s.extracted_at": since})
	rows, err := query(ctx, q, b)
	if err != nil {
		return nil, fmt.Errorf("querying scores: %w", err)
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var score float64
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}
