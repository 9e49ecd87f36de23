// Package sanitize turns raw Q CLI terminal output into prose fit for display.
//
// The pipeline runs in a fixed order because each stage assumes the previous
// one already removed what it handles:
//
//  1. ANSI escape sequences (CSI, OSC, two-byte escapes)
//  2. remaining control bytes, replaced by a space
//  3. spinner and decorative bullet glyphs
//  4. tool narration lines ("Using tool: ...", "Reading file: ...")
//  5. whitespace collapse and trim
//
// Whitespace is also collapsed before stage 4 so narration patterns only
// need to match single spaces.
//
// When the result is shorter than MinLength runes, a looser pass that only
// strips escape sequences is used instead. Sanitize never panics and is
// idempotent: Sanitize(Sanitize(x)) == Sanitize(x).
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

// MinLength is the shortest cleaned output accepted before falling back.
const MinLength = 5

var (
	// CSI (ESC [ ... final), OSC (ESC ] ... BEL|ST) and the remaining
	// ESC-intermediates-final forms (charset selection, keypad modes).
	escapeRe = regexp.MustCompile(`\x1b\[[0-9;?<=>!]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[ -/]*[0-~]`)

	controlRe = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

	// Braille spinner block, box/bar spinners, and bullets the CLI decorates lines with.
	glyphRe = regexp.MustCompile(`[\x{2800}-\x{28FF}\x{2581}-\x{2588}\x{25D0}-\x{25D3}\x{25CF}\x{2022}\x{25E6}\x{25AA}\x{25B8}\x{25BA}\x{23FA}\x{23BF}\x{2714}\x{2713}\x{2717}\x{1F6E0}\x{FE0F}]`)

	narrationRe = regexp.MustCompile(`(?mi)^[ \t]*(?:>[ \t]*)?(?:` + strings.Join([]string{
		`using tool:`,
		`reading file:`,
		`reading directory:`,
		`searching for:`,
		`path:`,
		`purpose:`,
		`successfully `,
		`completed in`,
		`- completed in`,
		`creating:`,
		`appending to:`,
		`replacing:`,
		`updating:`,
		`allow this action\?`,
		`thinking\.\.\.`,
		`↳`,
		`⋮`,
	}, "|") + `).*$`)

	// Every horizontal space strings.TrimSpace would also strip.
	spaceRunRe   = regexp.MustCompile(`[\t\x{0085}\pZ]+`)
	newlineRunRe = regexp.MustCompile(`\n{2,}`)

	writeSignalRe = regexp.MustCompile(`(?i)fs_write|creating:|appending to:|replacing:|updating:|successfully (?:created|wrote|written|appended|updated)`)
)

// Sanitize cleans raw process output. See the package comment for the stages.
func Sanitize(raw string) string {
	if !utf8.ValidString(raw) {
		raw = strings.ToValidUTF8(raw, "")
	}

	if text := strict(raw); long(text) {
		return text
	}
	// The fallback is returned only when the strict pipeline would reduce it
	// below MinLength again, which keeps Sanitize idempotent.
	fallback := loose(raw)
	if text := strict(fallback); long(text) {
		return text
	}
	return fallback
}

func strict(raw string) string {
	text := stripEscapes(raw)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	// A bare CR redraws the line (spinners), so it ends one.
	text = strings.ReplaceAll(text, "\r", "\n")
	text = controlRe.ReplaceAllString(text, " ")
	text = glyphRe.ReplaceAllString(text, "")
	text = collapseWhitespace(text)
	text = narrationRe.ReplaceAllString(text, "")
	return collapseWhitespace(text)
}

func long(text string) bool {
	return utf8.RuneCountInString(text) >= MinLength
}

// HasWriteSignal reports whether output shows the CLI wrote files, which means
// any cached note listing is stale.
func HasWriteSignal(text string) bool {
	return writeSignalRe.MatchString(text)
}

// StripANSI removes escape sequences only. Used for log readability.
func StripANSI(raw string) string {
	return ansi.Strip(stripEscapes(raw))
}

// loose strips escapes until none are left, since removing one sequence can
// join the bytes around it into another.
func loose(raw string) string {
	text := raw
	for {
		next := strings.TrimSpace(StripANSI(text))
		if next == text {
			return text
		}
		text = next
	}
}

func stripEscapes(s string) string {
	return escapeRe.ReplaceAllString(s, "")
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spaceRunRe.ReplaceAllString(line, " "))
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(newlineRunRe.ReplaceAllString(strings.Join(kept, "\n"), "\n"))
}
