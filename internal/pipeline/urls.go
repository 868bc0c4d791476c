package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxAdHocURLs bounds a single ad-hoc ingestion request.
const MaxAdHocURLs = 20

var httpURL = regexp.MustCompile(`^https?://`)

// ValidateURLs checks an ad-hoc URL list and returns it trimmed and
// deduplicated, first occurrence kept.
func ValidateURLs(urls []string) ([]string, error) {
	var (
		out  []string
		errs []error
	)
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if !httpURL.MatchString(u) {
			errs = append(errs, fmt.Errorf("invalid URL %q: must start with http:// or https://", u))
			continue
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("at least one URL is required")
	}
	if len(out) > MaxAdHocURLs {
		return nil, fmt.Errorf("at most %d URLs per request, got %d", MaxAdHocURLs, len(out))
	}
	return out, nil
}
