package sites

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// Portal pages mix full-width and half-width digits freely; every parser
// narrows the string first.

var (
	okuManPriceRe = regexp.MustCompile(`(\d+)億(?:(\d[\d,]*)万)?`)
	manPriceRe    = regexp.MustCompile(`(\d[\d,]*)万`)
	areaRe        = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:m²|m2|㎡|平米)`)
	floorRe       = regexp.MustCompile(`(\d+)\s*階`)
	totalFloorsRe = regexp.MustCompile(`(\d+)\s*階建`)
	basementRe    = regexp.MustCompile(`地下\s*(\d+)\s*階`)
	builtRe       = regexp.MustCompile(`(\d{4})年(?:\s*(\d{1,2})月)?`)
	yenRe         = regexp.MustCompile(`(\d[\d,]*)\s*円`)
	countRe       = regexp.MustCompile(`(\d[\d,]*)\s*戸`)
)

func narrow(s string) string {
	return width.Narrow.String(s)
}

func atoiClean(s string) (int, bool) {
	n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParsePrice converts price text like "3,480万円" or "1億2000万円" to 万円.
func ParsePrice(s string) (int, bool) {
	s = narrow(s)
	if m := okuManPriceRe.FindStringSubmatch(s); m != nil {
		oku, ok := atoiClean(m[1])
		if !ok {
			return 0, false
		}
		total := oku * 10000
		if m[2] != "" {
			man, ok := atoiClean(m[2])
			if !ok {
				return 0, false
			}
			total += man
		}
		return total, true
	}
	if m := manPriceRe.FindStringSubmatch(s); m != nil {
		return atoiClean(m[1])
	}
	return 0, false
}

// ParseArea extracts a floor area in m² from text like "65.53m²(壁芯)".
func ParseArea(s string) (float64, bool) {
	m := areaRe.FindStringSubmatch(narrow(s))
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseFloor extracts the unit's floor from text like "5階/10階建".
// The 階建 part is the building height, not the unit floor, so it is
// stripped before matching.
func ParseFloor(s string) (int, bool) {
	s = totalFloorsRe.ReplaceAllString(narrow(s), "")
	m := floorRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	return atoiClean(m[1])
}

// ParseTotalFloors extracts building height and basement floors from text
// like "地上10階 地下1階建" or "10階建".
func ParseTotalFloors(s string) (total, basement int, ok bool) {
	s = narrow(s)
	if m := basementRe.FindStringSubmatch(s); m != nil {
		basement, _ = atoiClean(m[1])
	}
	// Strip the basement part first so "地下1階建" cannot pose as the height.
	stripped := basementRe.ReplaceAllString(s, "")
	if m := totalFloorsRe.FindStringSubmatch(stripped); m != nil {
		total, ok = atoiClean(m[1])
	} else if m := floorRe.FindStringSubmatch(stripped); m != nil {
		total, ok = atoiClean(m[1])
	}
	if !ok {
		return 0, 0, false
	}
	return total, basement, true
}

// ParseBuiltYearMonth parses "1998年3月築" style text.
func ParseBuiltYearMonth(s string) (year, month int, ok bool) {
	m := builtRe.FindStringSubmatch(narrow(s))
	if m == nil {
		return 0, 0, false
	}
	year, ok = atoiClean(m[1])
	if !ok {
		return 0, 0, false
	}
	if m[2] != "" {
		month, _ = atoiClean(m[2])
	}
	return year, month, true
}

// ParseYen parses a monthly fee like "12,000円/月".
func ParseYen(s string) (int, bool) {
	m := yenRe.FindStringSubmatch(narrow(s))
	if m == nil {
		return 0, false
	}
	return atoiClean(m[1])
}

// ParseCount parses a unit count like "総戸数50戸".
func ParseCount(s string) (int, bool) {
	m := countRe.FindStringSubmatch(narrow(s))
	if m == nil {
		return 0, false
	}
	return atoiClean(m[1])
}
