package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/mfenderov/estate-pulse/internal/processor"
	"github.com/mfenderov/estate-pulse/pkg/models"
)

// objectWriter is the part of Client the archiver needs.
type objectWriter interface {
	PutMarkdown(ctx context.Context, prefix, content string) error
	PutMetadata(ctx context.Context, prefix string, meta ArticleMetadata) error
}

// Archiver stores a Markdown rendition and metadata for each persisted article.
type Archiver struct {
	objects   objectWriter
	processor *processor.Processor
	now       func() time.Time
}

// NewArchiver creates an Archiver writing through client.
func NewArchiver(client *Client) *Archiver {
	return newArchiver(client)
}

func newArchiver(objects objectWriter) *Archiver {
	return &Archiver{objects: objects, processor: processor.New(), now: time.Now}
}

// Archive renders article (from regionHTML when available) and writes it with
// its metadata. It returns the prefix the article was written under.
func (a *Archiver) Archive(ctx context.Context, article models.Article, regionHTML string) (string, error) {
	markdown, err := a.processor.Render(article, regionHTML)
	if err != nil {
		return "", err
	}

	now := a.now().UTC()
	prefix := Prefix(now, article.ID)
	if err := a.objects.PutMarkdown(ctx, prefix, markdown); err != nil {
		return "", fmt.Errorf("archiving article %s: %w", article.ID, err)
	}
	meta := ArticleMetadata{
		ID:          article.ID,
		URL:         article.URL,
		Title:       article.Title,
		Source:      article.Source,
		PublishedAt: article.PublishedAt,
		ContentHash: article.ContentHash,
		ArchivedAt:  now,
	}
	if err := a.objects.PutMetadata(ctx, prefix, meta); err != nil {
		return "", fmt.Errorf("archiving article %s: %w", article.ID, err)
	}
	return prefix, nil
}
