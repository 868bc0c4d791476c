package extraction

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mfenderov/estate-pulse/pkg/models"
)

const (
	maxTopics      = 3
	maxTopicLength = 50

	defaultSentiment  = 0.0
	defaultConfidence = 0.5
)

// jsonObject is greedy: it spans from the first '{' to the last '}'.
var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

// parse decodes a model response. The boolean is false when no JSON object
// could be decoded; a decodable object with no usable extractions still
// yields the catch-all record.
func (e *Extractor) parse(response string) ([]models.Extraction, bool) {
	payload, ok := decodeObject(response)
	if !ok {
		match := jsonObject.FindString(response)
		if match == "" {
			return nil, false
		}
		if payload, ok = decodeObject(match); !ok {
			return nil, false
		}
	}

	items, _ := payload["extractions"].([]any)
	return e.validate(items), true
}

func decodeObject(s string) (map[string]any, bool) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(s), &payload); err != nil || payload == nil {
		return nil, false
	}
	return payload, true
}

// validate normalizes market names, drops unknown and repeated markets,
// clamps scores and trims topics.
func (e *Extractor) validate(items []any) []models.Extraction {
	var out []models.Extraction
	seen := make(map[string]bool)

	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}

		name := models.CatchAllMarket
		if v, ok := obj["market"]; ok {
			name = fmt.Sprint(v)
		}
		market, ok := e.catalog.Normalize(name)
		if !ok || seen[market] {
			continue
		}
		seen[market] = true

		ext := models.Extraction{
			Market:     market,
			Sentiment:  toFloat(obj["sentiment"], defaultSentiment),
			Confidence: toFloat(obj["confidence"], defaultConfidence),
			Topics:     topics(obj["topics"]),
		}
		out = append(out, ext.Clamp())
	}

	if len(out) == 0 {
		return fallback()
	}
	return out
}

// toFloat accepts JSON numbers, numeric strings and booleans.
func toFloat(v any, def float64) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f
		}
	case bool:
		if x {
			return 1
		}
		return 0
	}
	return def
}

func topics(v any) []string {
	var raw []any
	switch x := v.(type) {
	case []any:
		raw = x
	case string:
		raw = []any{x}
	}

	out := make([]string, 0, min(len(raw), maxTopics))
	for _, t := range raw {
		if len(out) == maxTopics {
			break
		}
		out = append(out, truncate(fmt.Sprint(t), maxTopicLength))
	}
	return out
}
