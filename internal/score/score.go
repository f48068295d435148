// Package score measures recognized text against an expected transcript.
package score

import (
	"errors"
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// ErrEmptyReference is returned when there is no reference to normalize
// against but the hypothesis is not empty. The rate is reported as 1.
var ErrEmptyReference = errors.New("reference transcript is empty")

var unitCost = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// Normalize lowercases s, drops punctuation and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// WER is the word error rate of hypothesis against reference:
// (substitutions + insertions + deletions) / reference words.
func WER(reference, hypothesis string) (float64, error) {
	ref := strings.Fields(Normalize(reference))
	hyp := strings.Fields(Normalize(hypothesis))
	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0, nil
		}
		return 1, ErrEmptyReference
	}

	// The distance works on runes, so each distinct word gets one.
	symbols := make(map[string]rune)
	encode := func(words []string) []rune {
		out := make([]rune, len(words))
		for i, w := range words {
			r, ok := symbols[w]
			if !ok {
				r = rune(0xE000 + len(symbols))
				symbols[w] = r
			}
			out[i] = r
		}
		return out
	}
	distance := levenshtein.DistanceForStrings(encode(ref), encode(hyp), unitCost)
	return float64(distance) / float64(len(ref)), nil
}

// CER is the character error rate over normalized text.
func CER(reference, hypothesis string) (float64, error) {
	ref := []rune(Normalize(reference))
	hyp := []rune(Normalize(hypothesis))
	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0, nil
		}
		return 1, ErrEmptyReference
	}
	distance := levenshtein.DistanceForStrings(ref, hyp, unitCost)
	return float64(distance) / float64(len(ref)), nil
}
