package normalizer

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

// Normalize canonicalizes a building name for display and equality:
// full-width ASCII folded to half-width, hiragana folded to katakana,
// upper-cased, internal whitespace runs collapsed to a single space.
func Normalize(name string) string {
	s := width.Fold.String(name)
	s = hiraganaToKatakana(s)
	s = strings.ToUpper(s)
	s = collapseWhitespace(s)
	return strings.TrimSpace(s)
}

// strippedSymbols are removed when building a search key. The set covers the
// separator characters the portal sites interchange freely.
var strippedSymbols = []string{
	"・", "·", "〜", "～", "—", "–", "−", "ー", "-", "/", "／", ",",
}

// branchSuffixes are trailing building-wing markers stripped from search
// keys so "X EAST" and "X 東棟" collapse onto "X".
var branchSuffixes = []string{
	"EAST", "WEST", "NORTH", "SOUTH",
	"E棟", "W棟", "N棟", "S棟",
	"東棟", "西棟", "南棟", "北棟",
	"棟",
}

// Canonicalize reduces a building name to its search key: Normalize, then
// strip all whitespace and separator symbols, then strip one trailing
// branch suffix.
func Canonicalize(name string) string {
	s := Normalize(name)
	s = strings.Join(strings.Fields(s), "")
	for _, sym := range strippedSymbols {
		s = strings.ReplaceAll(s, sym, "")
	}
	for _, suffix := range branchSuffixes {
		if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}
	return s
}

// Ad-copy detection patterns. Additions are expected; keep them here.
var adCopyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`≪.*≫`),
	regexp.MustCompile(`【.*】`),
	regexp.MustCompile(`駅.{0,6}徒歩\s*\d+\s*分`),
	regexp.MustCompile(`徒歩\s*\d+\s*分`),
	regexp.MustCompile(`\d+(\.\d+)?\s*万円`),
	regexp.MustCompile(`^\d+[SL]?[DK]+K?$`), // bare layout code as the whole name
	regexp.MustCompile(`^\d+[SL]?LDK$`),
	regexp.MustCompile(`築\s*\d+\s*年`),
	regexp.MustCompile(`新築|リフォーム済|リノベーション済`),
}

// IsAdvertisingText reports whether a building-name string looks like ad
// copy rather than a real name. Such names stay admissible as listing-level
// names but must never become a building's primary name, and their vote
// weight is multiplied by AdCopyWeight.
func IsAdvertisingText(s string) bool {
	trimmed := strings.TrimSpace(s)
	if len([]rune(trimmed)) < 3 {
		return true
	}
	folded := width.Fold.String(trimmed)
	for _, p := range adCopyPatterns {
		if p.MatchString(folded) {
			return true
		}
	}
	return false
}

// AdCopyWeight is the vote-weight multiplier applied to ad-copy-flagged
// values during majority voting.
const AdCopyWeight = 0.1

var whitespaceRun = regexp.MustCompile(`[\s\x{3000}]+`)

func collapseWhitespace(s string) string {
	return whitespaceRun.ReplaceAllString(s, " ")
}

// hiraganaToKatakana shifts every hiragana code point into the katakana
// block. The blocks are parallel (U+3041..U+3096 → U+30A1..U+30F6).
func hiraganaToKatakana(s string) string {
	runes := []rune(s)
	for i, r := range runes {
		if r >= 0x3041 && r <= 0x3096 {
			runes[i] = r + 0x60
		}
	}
	return string(runes)
}
