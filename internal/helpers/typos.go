package helpers

import (
	"strings"
	"unicode/utf8"
)

// Suggests a valid export name for a missing import. Only names longer than
// three characters participate because short names produce noisy guesses.
type TypoDetector struct {
	oneCharTypos map[string]string
	lowerCase    map[string]string
}

func MakeTypoDetector(valid []string) TypoDetector {
	detector := TypoDetector{
		oneCharTypos: make(map[string]string),
		lowerCase:    make(map[string]string),
	}

	for _, correct := range valid {
		if len(correct) <= 3 {
			continue
		}

		// Add all combinations of each valid word with one character missing
		for i, ch := range correct {
			detector.oneCharTypos[correct[:i]+correct[i+utf8.RuneLen(ch):]] = correct
		}

		// "useState" vs. "usestate"
		detector.lowerCase[strings.ToLower(correct)] = correct
	}

	return detector
}

func (detector TypoDetector) MaybeCorrectTypo(typo string) (string, bool) {
	if corrected, ok := detector.lowerCase[strings.ToLower(typo)]; ok && corrected != typo {
		return corrected, true
	}

	// Check for a single deleted character
	if corrected, ok := detector.oneCharTypos[typo]; ok {
		return corrected, true
	}

	// Check for a single misplaced character
	for i, ch := range typo {
		if corrected, ok := detector.oneCharTypos[typo[:i]+typo[i+utf8.RuneLen(ch):]]; ok && corrected != typo {
			return corrected, true
		}
	}

	return "", false
}
