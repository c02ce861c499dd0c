package parser

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

func isSpace(r rune) bool {
	return unicode.IsSpace(r) || r == '\ufeff'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// leadingFloat parses the longest decimal number at the start of s, ignoring
// leading whitespace and anything after the number. "Infinity" with an
// optional sign is accepted.
func leadingFloat(s string) (float64, bool) {
	s = strings.TrimLeftFunc(s, isSpace)

	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	if strings.HasPrefix(s[i:], "Infinity") {
		if s[0] == '-' {
			return math.Inf(-1), true
		}
		return math.Inf(1), true
	}

	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		frac := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			frac++
		}
		if digits+frac > 0 {
			i = j
			digits += frac
		}
	}
	if digits == 0 {
		return 0, false
	}

	// exponent only counts when it has digits
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > j {
			i = k
		}
	}

	v, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return v, true
		}
		return 0, false
	}
	return v, true
}

// leadingInt parses the integer at the start of s the same lenient way:
// leading whitespace, an optional sign, an optional 0x prefix, then as many
// digits as are valid. "1.9" yields 1. Values beyond int64 clamp to its
// bounds.
func leadingInt(s string) (int64, bool) {
	s = strings.TrimLeftFunc(s, isSpace)

	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}

	base := 10
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		base = 16
		s = s[2:]
	}

	n := 0
	for n < len(s) && digitValue(s[n]) < base {
		n++
	}
	if n == 0 {
		return 0, false
	}

	// out-of-range values saturate instead of failing
	u, err := strconv.ParseUint(s[:n], base, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); !ok || ne.Err != strconv.ErrRange {
			return 0, false
		}
		u = math.MaxUint64
	}
	if neg {
		if u >= 1<<63 {
			return math.MinInt64, true
		}
		return -int64(u), true
	}
	if u > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(u), true
}

func digitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	default:
		return 99
	}
}
