package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// FingerprintPrefix is the number of leading characters of cleaned text
// that contribute to a content fingerprint.
const FingerprintPrefix = 5000

// CandidateItem is a URL surfaced by source discovery.
type CandidateItem struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// FetchedDocument is a fetched and cleaned article page.
type FetchedDocument struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"published_at,omitempty"` // nil when no date could be found
	Fingerprint string     `json:"fingerprint"`
	HTML        string     `json:"-"` // outer HTML of the main content region
	FetchedAt   time.Time  `json:"fetched_at"`
}

// Fingerprint returns the sha256 hex digest of the first FingerprintPrefix
// characters of text.
func Fingerprint(text string) string {
	runes := []rune(text)
	if len(runes) > FingerprintPrefix {
		text = string(runes[:FingerprintPrefix])
	}
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}
