// Package normalize implements C7: preset-driven text normalization applied
// to transcripts so that cross-provider comparisons score like for like.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Preset names a named normalization profile.
type Preset string

const (
	// PresetWER lowercases and strips punctuation, for word-error-rate
	// scoring.
	PresetWER Preset = "wer"

	// PresetCER preserves case and punctuation, for character-error-rate
	// scoring.
	PresetCER Preset = "cer"

	// PresetNoPunct lowercases and strips punctuation but keeps spaces
	// (identical word-boundary behavior to PresetWER; kept distinct
	// because callers name it separately in the config schema).
	PresetNoPunct Preset = "nopunct"
)

// punctuationSet is the character class stripped by wer/nopunct, per §4.6:
// exactly 、 。 . , ! ? ！ ？ and no other punctuation.
var punctuationSet = map[rune]bool{
	'、': true, '。': true, '.': true, ',': true,
	'!': true, '?': true, '！': true, '？': true,
}

// Result is the normalized form of a transcript plus flags recording
// whether the input actually contained punctuation/casing to normalize.
type Result struct {
	TextNorm           string
	PunctuationApplied bool
	CasingApplied      bool
}

var caser = cases.Lower(language.Und)

// Apply runs preset-driven normalization over text and returns the result.
// An unrecognized preset falls back to the base pass only (unify quotes,
// NFKC, collapse whitespace, trim) — matching PresetCER's behavior.
func Apply(preset Preset, text string) Result {
	base, casingApplied := normalizeBase(text)
	punctuationApplied := containsPunctuation(base)

	switch preset {
	case PresetWER, PresetNoPunct:
		lowered := caser.String(base)
		casingApplied = casingApplied || lowered != base
		stripped := stripPunctuation(lowered)
		return Result{
			TextNorm:           collapseWhitespace(stripped),
			PunctuationApplied: punctuationApplied,
			CasingApplied:      casingApplied,
		}
	default: // PresetCER and anything unrecognized: base only.
		return Result{
			TextNorm:           base,
			PunctuationApplied: punctuationApplied,
			CasingApplied:      casingApplied,
		}
	}
}

// normalizeBase unifies smart quotes to ASCII double-quote, applies NFKC,
// collapses whitespace, and trims. It reports whether the input contained
// any non-lowercase letter (casingApplied is a property of the raw input,
// independent of any preset's own lowering pass).
func normalizeBase(text string) (string, bool) {
	unified := unifySmartQuotes(text)
	normalized := norm.NFKC.String(unified)
	collapsed := collapseWhitespace(normalized)
	trimmed := strings.TrimSpace(collapsed)

	casingApplied := false
	for _, r := range trimmed {
		if unicode.IsUpper(r) {
			casingApplied = true
			break
		}
	}
	return trimmed, casingApplied
}

func unifySmartQuotes(s string) string {
	replacer := strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	)
	return replacer.Replace(s)
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	lastWasSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				b.WriteRune(' ')
			}
			lastWasSpace = true
			continue
		}
		lastWasSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func containsPunctuation(s string) bool {
	for _, r := range s {
		if punctuationSet[r] {
			return true
		}
	}
	return false
}

func stripPunctuation(s string) string {
	var b strings.Builder
	for _, r := range s {
		if punctuationSet[r] {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
