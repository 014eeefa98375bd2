package langtag

import (
	"strings"

	"golang.org/x/text/language"
)

// The translation backend and the UI both speak display labels ("English (US)",
// "Japanese"), while detection results may come back as labels, bare codes, or
// regional variants. Everything routing-related is compared through Canonical.

// Unknown is the label used when detection failed or returned nothing usable.
const Unknown = "Unknown"

var labelTags = map[string]language.Tag{
	"japanese":              language.Japanese,
	"english":               language.English,
	"english (us)":          language.AmericanEnglish,
	"english (uk)":          language.BritishEnglish,
	"korean":                language.Korean,
	"chinese":               language.Chinese,
	"chinese (simplified)":  language.SimplifiedChinese,
	"chinese (traditional)": language.TraditionalChinese,
}

// Canonical resolves a display label or BCP-47-ish code to a canonical tag
// string. Unrecognized input is returned trimmed, so equality checks still
// behave sanely for labels we have never seen.
func Canonical(label string) string {
	t, ok := parse(label)
	if !ok {
		return strings.TrimSpace(label)
	}
	return t.String()
}

// Base returns the base language ("en", "ja", ...) for a label or code, or ""
// when the input cannot be resolved.
func Base(label string) string {
	t, ok := parse(label)
	if !ok {
		return ""
	}
	b, _ := t.Base()
	return b.String()
}

// Same reports whether two labels/codes name the same base language.
// "English (US)" and "en-GB" compare equal; anything unresolvable only
// matches itself after trimming.
func Same(a, b string) bool {
	ab, bb := Base(a), Base(b)
	if ab == "" || bb == "" {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return ab == bb
}

func parse(label string) (language.Tag, bool) {
	s := strings.TrimSpace(label)
	if s == "" || strings.EqualFold(s, Unknown) {
		return language.Und, false
	}
	if t, ok := labelTags[strings.ToLower(s)]; ok {
		return t, true
	}
	t, err := language.Parse(s)
	if err != nil || t == language.Und {
		return language.Und, false
	}
	return t, true
}
