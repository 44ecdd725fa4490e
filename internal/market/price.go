package market

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParsePrice turns a display price such as "12,17€", "$5.25" or "1.234,56"
// into a decimal. Everything except digits and separators is decoration
// (currency symbols, codes, spacing). A separator followed by one or two
// trailing digits is the decimal separator; every other '.' or ',' is
// digit grouping. ok is false when the input holds no number at all, or
// when a zero integer part is followed by a single three-digit group
// ("0.125"), which reads both as a fraction and as grouping.
func ParsePrice(raw string) (decimal.Decimal, bool) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}

	// "pуб." and similar suffixes leave stray separators at the edges
	s := strings.Trim(b.String(), ".,")
	if s == "" {
		return decimal.Zero, false
	}

	sep := strings.LastIndexAny(s, ".,")
	if sep >= 0 && len(s)-sep-1 == 3 && strings.Trim(s[:sep], "0.,") == "" {
		return decimal.Zero, false
	}

	if sep >= 0 && len(s)-sep-1 <= 2 {
		s = stripSeparators(s[:sep]) + "." + s[sep+1:]
	} else {
		s = stripSeparators(s)
	}

	price, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return price, true
}

func stripSeparators(s string) string {
	return strings.NewReplacer(".", "", ",", "").Replace(s)
}
