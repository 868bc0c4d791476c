// Package events defines the domain events emitted by the pipeline and the
// publishers that deliver them.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeAlertRaised        = "alert.raised"
	TypeIngestionCompleted = "ingestion.completed"
)

// Event is one domain event. Key selects the partition; Data is JSON encoded.
type Event struct {
	Type       string
	Key        string
	OccurredAt time.Time
	Data       any
}

// AlertRaised is emitted after an alert has been committed.
type AlertRaised struct {
	AlertID   string  `json:"alert_id"`
	Market    string  `json:"market"`
	ArticleID string  `json:"article_id"`
	Severity  string  `json:"severity"`
	Message   string  `json:"message"`
	ZScore    float64 `json:"z_score"`
}

// IngestionCompleted is emitted when an orchestrator batch finishes.
type IngestionCompleted struct {
	Requested int           `json:"requested"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Chunks    int           `json:"chunks"`
	Alerts    int           `json:"alerts"`
	Duration  time.Duration `json:"duration_ns"`
}

// NewAlertRaised wraps a in an event keyed by market.
func NewAlertRaised(a AlertRaised) Event {
	return Event{Type: TypeAlertRaised, Key: a.Market, OccurredAt: time.Now().UTC(), Data: a}
}

// NewIngestionCompleted wraps c in an event.
func NewIngestionCompleted(c IngestionCompleted) Event {
	return Event{Type: TypeIngestionCompleted, Key: TypeIngestionCompleted, OccurredAt: time.Now().UTC(), Data: c}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
func (Nop) Close() error                            { return nil }
