package assessment

import (
	"strings"
	"unicode/utf8"
)

// Tier is a realm bucket assigned by the evaluator.
type Tier string

const (
	TierUnranked     Tier = "unranked"
	TierFoundational Tier = "foundational"
	TierApplied      Tier = "applied"
	TierSharing      Tier = "sharing"
	TierReflective   Tier = "reflective"
)

// scoredTiers is the display order of sub-scores.
var scoredTiers = []Tier{TierFoundational, TierApplied, TierSharing, TierReflective}

var tierInfo = map[Tier]struct{ title, advice string }{
	TierUnranked: {
		"凡人（尚未入道）",
		"你尚在门外徘徊。先挑一个 AI 工具，每天用它解决一件小事，坚持一周，自会感到灵气入体。",
	},
	TierFoundational: {
		"练气期",
		"你已感知灵气，但仍停留在偶尔问答。试着把重复性的工作交给 AI，写下第一个自动化脚本。",
	},
	TierApplied: {
		"筑基期",
		"你已能驾驭 AI 完成实际任务并形成习惯。下一步是把经验沉淀成方法，分享给身边的人。",
	},
	TierSharing: {
		"金丹期",
		"你不仅自身精进，还能带动他人。多回顾失败与局限，形成自己对 AI 的判断与取舍。",
	},
	TierReflective: {
		"元婴期",
		"你应用、传道、反思俱全，已具宗师气象。保持好奇，持续校准你与 AI 协作的边界。",
	},
}

// Realm is the derived evaluation result. It is never persisted as state,
// only rendered into transcripts.
type Realm struct {
	Tier   Tier         `json:"tier"`
	Title  string       `json:"title"`
	Advice string       `json:"advice"`
	Scores map[Tier]int `json:"tierScores"`
}

// TierTitle returns the display title of a tier.
func TierTitle(t Tier) string {
	return tierInfo[t].title
}

// Evaluator scores answers by length and keyword presence.
type Evaluator struct {
	tools    []string
	workflow []string
	sharing  []string
}

// NewEvaluator creates an evaluator from catalog keywords.
func NewEvaluator(k Keywords) *Evaluator {
	return &Evaluator{
		tools:    lowerAll(k.Tools),
		workflow: lowerAll(k.Workflow),
		sharing:  lowerAll(k.Sharing),
	}
}

// Evaluate maps answers (keyed 1..8) to a realm. It is pure.
func (e *Evaluator) Evaluate(answers map[int]string) Realm {
	scores := map[Tier]int{
		TierFoundational: 0,
		TierApplied:      0,
		TierSharing:      0,
		TierReflective:   0,
	}

	if longer(answers[1], 20) {
		scores[TierFoundational]++
	}
	if longer(answers[2], 30) {
		scores[TierFoundational]++
	}

	if containsAny(answers[3], e.tools) {
		scores[TierApplied]++
	}
	if longer(answers[4], 40) {
		scores[TierApplied]++
	}
	if containsAny(answers[5], e.workflow) {
		scores[TierApplied]++
	}

	if containsAny(answers[6], e.sharing) {
		scores[TierSharing]++
	}

	if longer(answers[7], 50) {
		scores[TierReflective]++
	}
	if longer(answers[8], 50) {
		scores[TierReflective]++
	}

	var tier Tier
	switch {
	case scores[TierReflective] >= 1 && scores[TierSharing] >= 1 && scores[TierApplied] >= 2:
		tier = TierReflective
	case scores[TierSharing] >= 1 && scores[TierApplied] >= 2:
		tier = TierSharing
	case scores[TierApplied] >= 2:
		tier = TierApplied
	case scores[TierFoundational] >= 1:
		tier = TierFoundational
	default:
		tier = TierUnranked
	}

	info := tierInfo[tier]
	return Realm{Tier: tier, Title: info.title, Advice: info.advice, Scores: scores}
}

func longer(s string, n int) bool {
	return utf8.RuneCountInString(strings.TrimSpace(s)) > n
}

func containsAny(s string, keywords []string) bool {
	if s == "" {
		return false
	}
	s = strings.ToLower(s)
	for _, k := range keywords {
		if k != "" && strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
