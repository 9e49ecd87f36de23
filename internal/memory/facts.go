package memory

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// factLabels groups label spellings per fact kind.
var factLabels = []string{
	`姓名|名字|name`,
	`年龄|age`,
	`职业|职位|身份|role|occupation|title`,
	`公司|单位|雇主|employer|company`,
	`城市|所在城市|居住地|现居|city|location`,
	`籍贯|老家|家乡|出生地|hometown|origin`,
}

// Each pattern accepts "**label**: value", "**label:** value" and "label: value"
// with ASCII or full-width colons, optionally as a list item.
var factPatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(factLabels))
	for _, labels := range factLabels {
		out = append(out, regexp.MustCompile(
			`(?im)^[ \t]*(?:[-*+][ \t]+)?(?:\*\*)?(?:`+labels+`)[ \t]*(?:\*\*)?[ \t]*[:：][ \t]*(?:\*\*)?[ \t]*(.+?)[ \t]*(?:\*\*)?[ \t]*$`))
	}
	return out
}()

// Memory is a note supplied with a chat request.
type Memory struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

// ExtractFacts returns labelled personal facts found in note text.
func ExtractFacts(text string) []string {
	var facts []string
	for _, re := range factPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if v := strings.TrimSpace(strings.Trim(m[1], "*")); v != "" {
				facts = append(facts, v)
			}
		}
	}
	return facts
}

// ActuallyUsed returns the titles of memories with at least one fact
// (longer than two characters) echoed in response.
func ActuallyUsed(memories []Memory, response string) []string {
	used := []string{}
	for _, m := range memories {
		for _, fact := range ExtractFacts(m.Content) {
			if utf8.RuneCountInString(fact) > 2 && strings.Contains(response, fact) {
				used = append(used, m.Title)
				break
			}
		}
	}
	return used
}
