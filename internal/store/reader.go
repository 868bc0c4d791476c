package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/mfenderov/estate-pulse/pkg/models"
)

// ArticleFilter narrows ListArticles.
type ArticleFilter struct {
	Source string
	Since  time.Time
	Limit  int // default 50
	Offset int
}

// Stats counts stored rows.
type Stats struct {
	Articles             int `json:"articles"`
	Markets              int `json:"markets"`
	Sentiments           int `json:"sentiments"`
	Alerts               int `json:"alerts"`
	UnacknowledgedAlerts int `json:"unacknowledged_alerts"`
}

// MarketScores returns sentiment scores for market extracted at or after since.
func (s *Store) MarketScores(ctx context.Context, market string, since time.Time) ([]float64, error) {
	return marketScores(ctx, s.db, market, since)
}

// KnownURLs returns the subset of urls that already belong to a stored article.
func (s *Store) KnownURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	known := make(map[string]bool)
	if len(urls) == 0 {
		return known, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT url FROM articles WHERE url = ANY($1)`, pq.Array(urls))
	if err != nil {
		return nil, fmt.Errorf("query known urls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		known[url] = true
	}
	return known, rows.Err()
}

func articlesQuery(f ArticleFilter) sq.SelectBuilder {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	b := psql.Select("id", "url", "title", "source", "published_at", "content_hash", "created_at").
		From("articles").
		OrderBy("created_at DESC").
		Limit(uint64(limit))
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	if f.Source != "" {
		b = b.Where(sq.Eq{"source": f.Source})
	}
	if !f.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": f.Since})
	}
	return b
}

// ListArticles returns article summaries, newest first. Content is omitted.
func (s *Store) ListArticles(ctx context.Context, f ArticleFilter) ([]models.Article, error) {
	rows, err := query(ctx, s.db, articlesQuery(f))
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var articles []models.Article
	for rows.Next() {
		var a models.Article
		var published sql.NullTime
		if err := rows.Scan(&a.ID, &a.URL, &a.Title, &a.Source, &published, &a.ContentHash, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		a.PublishedAt = timePtr(published)
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// GetArticle returns one article with its content.
func (s *Store) GetArticle(ctx context.Context, id string) (*models.Article, error) {
	b := psql.Select("id", "url", "title", "content", "source", "published_at", "content_hash", "created_at").
		From("articles").Where(sq.Eq{"id": id})
	row, err := queryRow(ctx, s.db, b)
	if err != nil {
		return nil, err
	}

	var a models.Article
	var published sql.NullTime
	err = row.Scan(&a.ID, &a.URL, &a.Title, &a.Content, &a.Source, &published, &a.ContentHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("article %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan article: %w", err)
	}
	a.PublishedAt = timePtr(published)
	return &a, nil
}

// ListMarkets returns every market that has been seen, by name.
func (s *Store) ListMarkets(ctx context.Context) ([]models.Market, error) {
	rows, err := query(ctx, s.db, psql.Select("id", "name", "region").From("markets").OrderBy("name"))
	if err != nil {
		return nil, fmt.Errorf("query markets: %w", err)
	}
	defer rows.Close()

	var markets []models.Market
	for rows.Next() {
		var m models.Market
		if err := rows.Scan(&m.ID, &m.Name, &m.Region); err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// MarketSentiments returns the sentiments recorded for market in
// [since, until), oldest first. A zero until means no upper bound.
func (s *Store) MarketSentiments(ctx context.Context, market string, since, until time.Time) ([]models.Sentiment, error) {
	b := psql.Select("s.id", "s.article_id", "s.market_id", "m.name", "s.score", "s.confidence", "s.topics", "s.extracted_at").
		From("sentiments s").
		Join("markets m ON m.id = s.market_id").
		Where(sq.Eq{"m.name": market}).
		Where(sq.GtOrEq{"s.extracted_at": since}).
		OrderBy("s.extracted_at")
	if !until.IsZero() {
		b = b.Where(sq.Lt{"s.extracted_at": until})
	}

	rows, err := query(ctx, s.db, b)
	if err != nil {
		return nil, fmt.Errorf("query sentiments: %w", err)
	}
	defer rows.Close()

	var out []models.Sentiment
	for rows.Next() {
		var st models.Sentiment
		if err := rows.Scan(&st.ID, &st.ArticleID, &st.MarketID, &st.Market, &st.Score, &st.Confidence,
			pq.Array(&st.Topics), &st.ExtractedAt); err != nil {
			return nil, fmt.Errorf("scan sentiment: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func alertsQuery(unacknowledgedOnly bool, limit int) sq.SelectBuilder {
	if limit <= 0 {
		limit = 50
	}
	b := psql.Select("a.id", "a.market_id", "m.name", "a.article_id", "a.alert_type", "a.severity",
		"a.message", "a.triggered_at", "a.acknowledged").
		From("alerts a").
		Join("markets m ON m.id = a.market_id").
		OrderBy("a.triggered_at DESC").
		Limit(uint64(limit))
	if unacknowledgedOnly {
		b = b.Where(sq.Eq{"a.acknowledged": false})
	}
	return b
}

// ListAlerts returns alerts, newest first.
func (s *Store) ListAlerts(ctx context.Context, unacknowledgedOnly bool, limit int) ([]models.Alert, error) {
	rows, err := query(ctx, s.db, alertsQuery(unacknowledgedOnly, limit))
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var articleID sql.NullString
		if err := rows.Scan(&a.ID, &a.MarketID, &a.Market, &articleID, &a.Type, &a.Severity,
			&a.Message, &a.TriggeredAt, &a.Acknowledged); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.ArticleID = articleID.String
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert marks an alert as acknowledged.
func (s *Store) AcknowledgeAlert(ctx context.Context, id string) error {
	res, err := exec(ctx, s.db, psql.Update("alerts").Set("acknowledged", true).Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("acknowledging alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acknowledging alert: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return nil
}

// Stats returns row counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	const q = `SELECT
		(SELECT COUNT(*) FROM articles),
		(SELECT COUNT(*) FROM markets),
		(SELECT COUNT(*) FROM sentiments),
		(SELECT COUNT(*) FROM alerts),
		(SELECT COUNT(*) FROM alerts WHERE NOT acknowledged)`

	var st Stats
	if err := s.db.QueryRowContext(ctx, q).Scan(&st.Articles, &st.Markets, &st.Sentiments, &st.Alerts, &st.UnacknowledgedAlerts); err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}
