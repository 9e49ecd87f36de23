package assessment

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// QuestionCount is the number of questions in an interview.
const QuestionCount = 8

//go:embed catalog.yaml
var defaultCatalog []byte

// Question is one static catalog entry.
type Question struct {
	Index int    `yaml:"index" json:"index"`
	Tier  Tier   `yaml:"tier" json:"tier"`
	Text  string `yaml:"text" json:"text"`
}

// Triggers lists the phrases the intent classifier matches.
type Triggers struct {
	Start    []string `yaml:"start"`
	Exit     []string `yaml:"exit"`
	Identity []string `yaml:"identity"`
}

// Keywords feed the realm evaluator.
type Keywords struct {
	Tools    []string `yaml:"tools"`
	Workflow []string `yaml:"workflow"`
	Sharing  []string `yaml:"sharing"`
}

// TemplateTexts is the raw fallback bank.
type TemplateTexts struct {
	Exited          string `yaml:"exited"`
	HowToStart      string `yaml:"how_to_start"`
	Reactivation    string `yaml:"reactivation"`
	FinalAssessment string `yaml:"final_assessment"`
}

// Catalog is the immutable interview definition loaded at startup.
type Catalog struct {
	Persona      string        `yaml:"persona"`
	Questions    []Question    `yaml:"questions"`
	Triggers     Triggers      `yaml:"triggers"`
	DriftPhrases []string      `yaml:"drift_phrases"`
	Keywords     Keywords      `yaml:"keywords"`
	Templates    TemplateTexts `yaml:"templates"`

	reactivation    *template.Template
	finalAssessment *template.Template
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog from path, or returns the embedded one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Questions) != QuestionCount {
		return fmt.Errorf("catalog must have %d questions, got %d", QuestionCount, len(c.Questions))
	}
	for i, q := range c.Questions {
		if q.Index != i+1 {
			return fmt.Errorf("question %d has index %d", i+1, q.Index)
		}
		if strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("question %d has no text", q.Index)
		}
	}
	if len(c.Triggers.Start) == 0 || len(c.Triggers.Exit) == 0 {
		return fmt.Errorf("catalog needs start and exit triggers")
	}
	t := c.Templates
	if t.Exited == "" || t.HowToStart == "" || t.Reactivation == "" || t.FinalAssessment == "" {
		return fmt.Errorf("catalog is missing a template")
	}
	if c.Persona == "" {
		c.Persona = "AI修仙老祖"
	}

	var err error
	if c.reactivation, err = template.New("reactivation").Option("missingkey=error").Parse(c.Templates.Reactivation); err != nil {
		return fmt.Errorf("parse reactivation template: %w", err)
	}
	if c.finalAssessment, err = template.New("finalAssessment").Option("missingkey=error").Parse(c.Templates.FinalAssessment); err != nil {
		return fmt.Errorf("parse final_assessment template: %w", err)
	}
	return nil
}

// Question returns the catalog entry for a 1-based index.
func (c *Catalog) Question(n int) (Question, bool) {
	if n < 1 || n > len(c.Questions) {
		return Question{}, false
	}
	return c.Questions[n-1], true
}
