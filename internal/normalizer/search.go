package normalizer

import (
	"strings"

	"golang.org/x/text/width"
)

// SearchPatternSet is the expansion of a user query into the variants that
// a substring search should OR together. Generating SQL from this value
// (rather than splicing strings) keeps the query parameterized.
type SearchPatternSet struct {
	Query    string
	Patterns []string
}

// ExpandSearchPatterns produces the variant set for a query: normalized,
// canonicalized, nakaguro-stripped, space-stripped, full-width upper, and
// hyphen-normalized forms. Duplicates are removed, order is stable.
func ExpandSearchPatterns(query string) SearchPatternSet {
	q := strings.TrimSpace(query)
	variants := []string{
		Normalize(q),
		Canonicalize(q),
		strings.ReplaceAll(Normalize(q), "・", ""),
		strings.Join(strings.Fields(Normalize(q)), ""),
		strings.ToUpper(width.Widen.String(q)),
		hyphenNormalize(Normalize(q)),
	}

	seen := make(map[string]struct{}, len(variants))
	out := make([]string, 0, len(variants))
	for _, v := range variants {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return SearchPatternSet{Query: q, Patterns: out}
}

// hyphenNormalize folds every dash-like separator onto an ASCII hyphen.
func hyphenNormalize(s string) string {
	for _, dash := range []string{"ー", "―", "—", "–", "−", "‐", "〜", "～"} {
		s = strings.ReplaceAll(s, dash, "-")
	}
	return s
}

// LikeArgs returns the patterns wrapped for ILIKE '%…%' matching.
func (p SearchPatternSet) LikeArgs() []string {
	args := make([]string, len(p.Patterns))
	for i, pat := range p.Patterns {
		args[i] = "%" + pat + "%"
	}
	return args
}
