// Package normalize holds the pure value-cleaning functions the transfer
// pipeline applies to raw imported fields: URL canonicalization, tolerant
// numeric parsing, and timestamp coercion. No I/O, fully deterministic.
package normalize

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	repeatedSlashes = regexp.MustCompile(`/{2,}`)
	dateOnly        = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	numericRunes    = regexp.MustCompile(`[^0-9,.\-]`)
)

// URL canonicalizes a social-post URL for use as a join key: the fragment is
// dropped, repeated slashes in the path are collapsed, and one trailing slash
// is stripped (the root path "/" is preserved). Empty or whitespace-only
// input returns "". A string that does not parse as a URL is cleaned
// best-effort rather than rejected; whether the result resolves to a post is
// the validator's problem.
func URL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return collapsePath(trimmed)
	}

	u.Fragment = ""
	if u.Path != "" && u.Path != "/" {
		u.Path = strings.TrimSuffix(repeatedSlashes.ReplaceAllString(u.Path, "/"), "/")
	}
	return u.String()
}

func collapsePath(s string) string {
	collapsed := repeatedSlashes.ReplaceAllString(s, "/")
	if len(collapsed) > 1 {
		collapsed = strings.TrimSuffix(collapsed, "/")
	}
	return collapsed
}

// ToNumber parses a loosely-typed imported value into a float64. Strings may
// carry thousands separators and stray symbols ("1,234.5", "฿ 1,200").
// Returns false for nil, unparseable strings, and non-finite values.
func ToNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		return parseNumericString(v)
	default:
		return 0, false
	}
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseNumericString(s string) (float64, bool) {
	cleaned := numericRunes.ReplaceAllString(s, "")
	cleaned = strings.TrimSpace(strings.ReplaceAll(cleaned, ",", ""))
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return finite(f)
}

// timestampLayouts are tried in order after the date-only fast path.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
}

// ToTimestamp parses a date-only or full-timestamp string into a UTC instant.
// A plain YYYY-MM-DD value becomes that date at 00:00:00Z. Returns false when
// the value is empty or matches no known layout; the caller decides whether
// that means "use a fallback" (value missing) or "row error" (value present
// but malformed).
func ToTimestamp(value string) (time.Time, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, false
	}

	if dateOnly.MatchString(trimmed) {
		t, err := time.Parse("2006-01-02", trimmed)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ToTimestampOr resolves a timestamp through the default-substitution chain:
// the first non-missing candidate that parses wins, and when every candidate
// is missing the provided default is returned. Candidates that are present
// but unparseable are skipped here; rejecting them is validation's job.
func ToTimestampOr(def time.Time, candidates ...string) time.Time {
	for _, c := range candidates {
		if strings.TrimSpace(c) == "" {
			continue
		}
		if t, ok := ToTimestamp(c); ok {
			return t
		}
	}
	return def
}
