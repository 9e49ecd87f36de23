package assessment

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/*.md
var promptFS embed.FS

// CompletionMarker is the phrase the UI keys on to show the finished banner.
const CompletionMarker = "AI修仙老祖评测已完成"

var promptTemplates = template.Must(template.New("prompts").Option("missingkey=error").ParseFS(promptFS, "prompts/*.md"))

// QA is one answered question.
type QA struct {
	Index    int
	Question string
	Answer   string
}

type promptData struct {
	Persona    string
	Question   Question
	Previous   Question
	Answer     string
	Answered   int
	Transcript []QA
	Realm      Realm
}

type scoreLine struct {
	Title string
	Score int
}

type templateData struct {
	Question Question
	Answered int
	Realm    Realm
	Scores   []scoreLine
}

func renderPrompt(name string, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name+".md", data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Transcript pairs each recorded answer with its catalog question.
func (c *Catalog) Transcript(s *Session) []QA {
	out := make([]QA, 0, len(s.Answers))
	for _, idx := range s.OrderedAnswers() {
		q, _ := c.Question(idx)
		out = append(out, QA{Index: idx, Question: q.Text, Answer: s.Answers[idx]})
	}
	return out
}

// RenderReactivation renders the reactivation fallback for the current question.
func (c *Catalog) RenderReactivation(q Question, answered int) (string, error) {
	var buf bytes.Buffer
	if err := c.reactivation.Execute(&buf, templateData{Question: q, Answered: answered}); err != nil {
		return "", fmt.Errorf("render reactivation template: %w", err)
	}
	return ensureQuestion(strings.TrimSpace(buf.String()), q), nil
}

// RenderFinalAssessment renders the closing fallback for a realm result. The
// output always carries CompletionMarker.
func (c *Catalog) RenderFinalAssessment(r Realm) (string, error) {
	scores := make([]scoreLine, 0, len(scoredTiers))
	for _, t := range scoredTiers {
		scores = append(scores, scoreLine{Title: TierTitle(t), Score: r.Scores[t]})
	}
	var buf bytes.Buffer
	if err := c.finalAssessment.Execute(&buf, templateData{Realm: r, Answered: QuestionCount, Scores: scores}); err != nil {
		return "", fmt.Errorf("render final assessment template: %w", err)
	}
	out := strings.TrimSpace(buf.String())
	if !strings.Contains(out, CompletionMarker) {
		out = CompletionMarker + "\n\n" + out
	}
	return out, nil
}

// ensureQuestion appends the catalog question verbatim when the text lacks it.
func ensureQuestion(text string, q Question) string {
	if strings.Contains(text, q.Text) {
		return text
	}
	line := fmt.Sprintf("第%d问：%s", q.Index, q.Text)
	if text == "" {
		return line
	}
	return text + "\n\n" + line
}
