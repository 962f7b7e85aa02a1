package normalizer

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// NormalizeLayout buckets layout strings for voting: width-folded,
// upper-cased, with the optional "+" separators removed so "1S+LDK" and
// "1SLDK" collapse onto the same bucket.
func NormalizeLayout(layout string) string {
	s := width.Fold.String(layout)
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "+", "")
	s = strings.ReplaceAll(s, "＋", "")
	s = strings.Join(strings.Fields(s), "")
	return s
}

// directionAliases maps compass words to their canonical Japanese form.
var directionAliases = map[string]string{
	"N":  "北",
	"S":  "南",
	"E":  "東",
	"W":  "西",
	"NE": "北東",
	"NW": "北西",
	"SE": "南東",
	"SW": "南西",
	"北東": "北東",
	"東北": "北東",
	"北西": "北西",
	"西北": "北西",
	"南東": "南東",
	"東南": "南東",
	"南西": "南西",
	"西南": "南西",
}

// NormalizeDirection buckets direction strings: "SW" and "南西" (and the
// transposed "西南") all map to "南西".
func NormalizeDirection(direction string) string {
	s := width.Fold.String(direction)
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "向き")
	if canon, ok := directionAliases[s]; ok {
		return canon
	}
	return s
}

var (
	chomeKanji  = regexp.MustCompile(`([一二三四五六七八九十]+)丁目`)
	afterChome  = regexp.MustCompile(`\d+丁目.*$`)
	trailingNum = regexp.MustCompile(`\d+([-−‐]\d+)*$`)
)

var kanjiDigits = map[rune]int{
	'一': 1, '二': 2, '三': 3, '四': 4, '五': 5,
	'六': 6, '七': 7, '八': 8, '九': 9,
}

func kanjiNumberToInt(s string) (int, bool) {
	runes := []rune(s)
	// Handles 一..九十九, which covers every chō-me in practice.
	switch {
	case len(runes) == 1 && runes[0] == '十':
		return 10, true
	case len(runes) == 1:
		if d, ok := kanjiDigits[runes[0]]; ok {
			return d, true
		}
	case len(runes) == 2 && runes[0] == '十':
		if d, ok := kanjiDigits[runes[1]]; ok {
			return 10 + d, true
		}
	case len(runes) == 2 && runes[1] == '十':
		if d, ok := kanjiDigits[runes[0]]; ok {
			return d * 10, true
		}
	case len(runes) == 3 && runes[1] == '十':
		tens, ok1 := kanjiDigits[runes[0]]
		ones, ok2 := kanjiDigits[runes[2]]
		if ok1 && ok2 {
			return tens*10 + ones, true
		}
	}
	return 0, false
}

// NormalizeAddress buckets address strings for voting: width-folded digits,
// kanji chō-me numbers converted to ASCII digits, whitespace stripped.
func NormalizeAddress(address string) string {
	s := width.Fold.String(address)
	s = strings.Join(strings.Fields(s), "")
	s = chomeKanji.ReplaceAllStringFunc(s, func(m string) string {
		inner := strings.TrimSuffix(m, "丁目")
		if n, ok := kanjiNumberToInt(inner); ok {
			return strconv.Itoa(n) + "丁目"
		}
		return m
	})
	return s
}

// AddressPrefix strips the chō-me and everything after it, leaving the
// ward+district prefix used for building identity matching.
func AddressPrefix(address string) string {
	s := NormalizeAddress(address)
	s = afterChome.ReplaceAllString(s, "")
	s = trailingNum.ReplaceAllString(s, "")
	return s
}

// NormalizeStationInfo buckets station text: newlines and whitespace runs
// collapsed to single spaces.
func NormalizeStationInfo(info string) string {
	s := strings.ReplaceAll(info, "\r", "\n")
	return strings.TrimSpace(collapseWhitespace(s))
}
