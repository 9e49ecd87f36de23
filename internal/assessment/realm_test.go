package assessment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateTopTier(t *testing.T) {
	answers := map[int]string{
		1: strings.Repeat("a", 25),
		2: strings.Repeat("b", 35),
		3: "I wrote a script",
		4: strings.Repeat("c", 45),
		5: "I have a routine workflow",
		6: "I shared this with my team",
		7: strings.Repeat("d", 55),
		8: strings.Repeat("e", 55),
	}
	ev := NewEvaluator(DefaultCatalog().Keywords)

	first := ev.Evaluate(answers)
	assert.Equal(t, TierReflective, first.Tier)
	assert.Equal(t, map[Tier]int{
		TierFoundational: 2,
		TierApplied:      3,
		TierSharing:      1,
		TierReflective:   2,
	}, first.Scores)

	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ev.Evaluate(answers))
	}
}

func TestEvaluateEmptyIsUnranked(t *testing.T) {
	ev := NewEvaluator(DefaultCatalog().Keywords)
	for _, answers := range []map[int]string{nil, {}, {1: "", 2: "  ", 7: ""}} {
		got := ev.Evaluate(answers)
		assert.Equal(t, TierUnranked, got.Tier)
		for tier, score := range got.Scores {
			assert.Zero(t, score, "tier %s", tier)
		}
	}
}

func TestEvaluateTierLadder(t *testing.T) {
	long := func(n int) string { return strings.Repeat("长", n) }
	tests := []struct {
		name    string
		answers map[int]string
		want    Tier
	}{
		{
			name:    "foundational only",
			answers: map[int]string{1: long(21)},
			want:    TierFoundational,
		},
		{
			name:    "length boundary is exclusive",
			answers: map[int]string{1: long(20), 2: long(30)},
			want:    TierUnranked,
		},
		{
			name:    "applied needs two points",
			answers: map[int]string{3: "写了一个自动化脚本", 4: long(41)},
			want:    TierApplied,
		},
		{
			name:    "sharing without applied stays foundational",
			answers: map[int]string{1: long(21), 6: "经常给团队分享"},
			want:    TierFoundational,
		},
		{
			name:    "sharing with applied",
			answers: map[int]string{3: "script", 5: "每天固定的工作流", 6: "教同事用"},
			want:    TierSharing,
		},
		{
			name:    "reflective without sharing drops to applied",
			answers: map[int]string{3: "script", 4: long(41), 7: long(51), 8: long(51)},
			want:    TierApplied,
		},
	}
	ev := NewEvaluator(DefaultCatalog().Keywords)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ev.Evaluate(tt.answers)
			assert.Equal(t, tt.want, got.Tier)
			assert.Equal(t, TierTitle(tt.want), got.Title)
		})
	}
}
