package langid

import (
	"unicode"

	"github.com/ikuradondai/erudaite-desktop/src/langtag"
)

// Class is the heuristic verdict for captured text relative to the user's
// default language. It only picks a provisional translation target; the
// authoritative call is the backend's detect endpoint.
type Class int

const (
	// Default: the text looks like it is written in the default language.
	Default Class = iota
	// NotDefault: the text looks like it is written in something else.
	NotDefault
	// Unknown: no script test exists for the default language.
	Unknown
)

func (c Class) String() string {
	switch c {
	case Default:
		return "default"
	case NotDefault:
		return "not_default"
	default:
		return "unknown"
	}
}

// Classify runs a cheap script-range test selected by defaultLanguage.
// Pure and O(len(text)). Empty text counts as the default language.
func Classify(text, defaultLanguage string) Class {
	if isBlank(text) {
		return Default
	}

	switch langtag.Base(defaultLanguage) {
	case "ja":
		return verdict(hasKana(text) || hasHan(text))
	case "en":
		return verdict(asciiRatio(text) >= 0.9)
	case "ko":
		return verdict(hasHangul(text))
	case "zh":
		return verdict(hasHan(text) && !hasKana(text))
	default:
		return Unknown
	}
}

func verdict(isDefault bool) Class {
	if isDefault {
		return Default
	}
	return NotDefault
}

func isBlank(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// asciiRatio is the share of ASCII runes among non-whitespace runes.
func asciiRatio(s string) float64 {
	var ascii, total int
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if r <= 0x7F {
			ascii++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(ascii) / float64(total)
}

func hasKana(s string) bool {
	for _, r := range s {
		if (r >= 0x3040 && r <= 0x309F) || (r >= 0x30A0 && r <= 0x30FF) {
			return true
		}
	}
	return false
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

func hasHangul(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}
