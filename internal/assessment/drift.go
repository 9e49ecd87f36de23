package assessment

// DriftDetector reports whether text shows the tool broke character.
type DriftDetector func(text string) bool

// PhraseDetector flags text containing any phrase, case-insensitively.
func PhraseDetector(phrases []string) DriftDetector {
	norm := lowerAll(phrases)
	return func(text string) bool {
		return containsAny(text, norm)
	}
}
