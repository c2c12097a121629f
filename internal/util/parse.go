package util

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var priceNumberRe = regexp.MustCompile(`\d[\d.,]*`)

// freeMarkers are the storefront spellings of "costs nothing" we accept.
// Steam and PSN localize these per region.
var freeMarkers = []string{"free to play", "free", "gratuito", "grátis", "gratis"}

// ParsePrice extracts a price from storefront display text. It handles both
// decimal-comma locales ("R$ 1.234,56") and decimal-point ones ("$1,234.56"),
// and returns 0 for free-game markers. The result is rounded to cents so
// later <= comparisons are not at the mercy of float artifacts.
func ParsePrice(text string) (float64, error) {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return 0, fmt.Errorf("empty price text")
	}
	for _, marker := range freeMarkers {
		if strings.Contains(trimmed, marker) {
			return 0, nil
		}
	}

	number := priceNumberRe.FindString(trimmed)
	if number == "" {
		return 0, fmt.Errorf("no numeric price in %q", text)
	}

	lastComma := strings.LastIndex(number, ",")
	lastDot := strings.LastIndex(number, ".")
	if lastComma > lastDot {
		// Comma is the decimal separator; dots group thousands.
		number = strings.ReplaceAll(number, ".", "")
		number = strings.Replace(number, ",", ".", 1)
	} else {
		number = strings.ReplaceAll(number, ",", "")
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable price %q: %w", text, err)
	}
	return math.Round(value*100) / 100, nil
}

var discountRe = regexp.MustCompile(`\d+`)

// ParseDiscount extracts a percentage from text like "-75%".
func ParseDiscount(text string) int {
	m := discountRe.FindString(text)
	if m == "" {
		return 0
	}
	pct, err := strconv.Atoi(m)
	if err != nil || pct < 0 || pct > 100 {
		return 0
	}
	return pct
}

// SafeAtoi parses an int, returning 0 on any failure.
func SafeAtoi(s string) int {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return i
}
