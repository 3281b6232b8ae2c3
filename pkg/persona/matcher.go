package persona

import (
	"sort"
	"strings"
)

// Category is a named keyword set
type Category struct {
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Matcher does case-insensitive substring matching over an ordered list of
// categories. The first category with any matching keyword wins.
type Matcher struct {
	categories []Category
}

func NewMatcher(categories []Category) *Matcher {
	normalized := make([]Category, 0, len(categories))
	for _, category := range categories {
		keywords := normalizeKeywords(category.Keywords)
		if category.Name == "" || len(keywords) == 0 {
			continue
		}
		normalized = append(normalized, Category{Name: category.Name, Keywords: keywords})
	}
	return &Matcher{categories: normalized}
}

// Match returns the first category whose keyword set occurs in text
func (m *Matcher) Match(text string) (string, bool) {
	if m == nil {
		return "", false
	}
	lowered := strings.ToLower(text)
	for _, category := range m.categories {
		if containsAny(lowered, category.Keywords) {
			return category.Name, true
		}
	}
	return "", false
}

func (m *Matcher) Categories() []string {
	if m == nil {
		return nil
	}
	names := make([]string, len(m.categories))
	for i, category := range m.categories {
		names[i] = category.Name
	}
	return names
}

// Signals is a flat keyword set, e.g. completion or escalation phrases
type Signals []string

func NewSignals(keywords []string) Signals {
	return Signals(normalizeKeywords(keywords))
}

func (s Signals) Matches(text string) bool {
	return containsAny(strings.ToLower(text), s)
}

func containsAny(lowered string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" {
			out = append(out, keyword)
		}
	}
	return out
}

// OrderByPriority sorts items so that those listed in priority come first,
// in priority order, followed by the rest in their original order.
func OrderByPriority[T any](items []T, name func(T) string, priority []string) []T {
	rank := make(map[string]int, len(priority))
	for i, p := range priority {
		if _, exists := rank[p]; !exists {
			rank[p] = i
		}
	}

	ranked := make([]T, 0, len(items))
	rest := make([]T, 0, len(items))
	for _, item := range items {
		if _, ok := rank[name(item)]; ok {
			ranked = append(ranked, item)
		} else {
			rest = append(rest, item)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return rank[name(ranked[i])] < rank[name(ranked[j])]
	})
	return append(ranked, rest...)
}
