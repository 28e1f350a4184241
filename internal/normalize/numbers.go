package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ParseAmount coerces an amount written as a number or as text such as "1 234,56 €",
// "1,234.56" or "(12.00)". The bool is false when nothing numeric was found.
func ParseAmount(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return finite(n)
	case float32:
		return finite(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return finite(f)
	case string:
		return parseAmountString(n)
	}
	return 0, false
}

func parseAmountString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			negative = true
		}
	}
	digits := b.String()
	if strings.IndexAny(digits, "0123456789") < 0 {
		return 0, false
	}

	lastComma := strings.LastIndex(digits, ",")
	lastDot := strings.LastIndex(digits, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			digits = strings.ReplaceAll(digits, ".", "")
			digits = strings.Replace(digits, ",", ".", 1)
		} else {
			digits = strings.ReplaceAll(digits, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(digits, ",") > 1 || len(digits)-lastComma-1 == 3 {
			digits = strings.ReplaceAll(digits, ",", "")
		} else {
			digits = strings.Replace(digits, ",", ".", 1)
		}
	case strings.Count(digits, ".") > 1:
		digits = strings.ReplaceAll(digits, ".", "")
	}

	f, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		f = -f
	}
	return finite(f)
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// round2 rounds to cents.
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
