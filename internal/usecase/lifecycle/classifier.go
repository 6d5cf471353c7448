package lifecycle

import (
	"fmt"
	"regexp"
	"strings"
)

const CategoryOther = "other"

// Classifier assigns a category to a listing title.
type Classifier interface {
	Classify(title string) string
}

type categoryPattern struct {
	name    string
	pattern *regexp.Regexp
}

// KeywordClassifier returns the first rule whose pattern matches the
// lower-cased title, else CategoryOther.
type KeywordClassifier struct {
	rules []categoryPattern
}

func NewKeywordClassifier(rules []CategoryRule) (*KeywordClassifier, error) {
	compiled := make([]categoryPattern, 0, len(rules))
	for _, rule := range rules {
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile category %s: %w", rule.Name, err)
		}
		compiled = append(compiled, categoryPattern{name: strings.TrimSpace(rule.Name), pattern: pattern})
	}
	return &KeywordClassifier{rules: compiled}, nil
}

func (c *KeywordClassifier) Classify(title string) string {
	text := strings.ToLower(title)
	for _, rule := range c.rules {
		if rule.pattern.MatchString(text) {
			return rule.name
		}
	}
	return CategoryOther
}

// compilePrice returns nil for an empty pattern, which disables extraction.
func compilePrice(rule PriceRule) (*regexp.Regexp, error) {
	if strings.TrimSpace(rule.Pattern) == "" {
		return nil, nil
	}
	pattern, err := regexp.Compile(rule.Pattern)
	if err != nil {
		return nil, fmt.Errorf("price.pattern: %w", err)
	}
	return pattern, nil
}

func extractPrice(pattern *regexp.Regexp, text string) string {
	if pattern == nil {
		return ""
	}
	match := pattern.FindStringSubmatch(text)
	switch {
	case len(match) == 0:
		return ""
	case len(match) > 1 && match[1] != "":
		return strings.TrimSpace(match[1])
	default:
		return strings.TrimSpace(match[0])
	}
}
