package assessment

import "testing"

func TestClassify(t *testing.T) {
	c := NewClassifier(DefaultCatalog().Triggers)

	tests := []struct {
		msg  string
		want Intent
	}{
		{"我要老祖", IntentStart},
		{"老祖你好，我要老祖！", IntentStart},
		{"退出老祖", IntentExit},
		{"我要老祖，算了退出老祖", IntentExit},
		{"你是谁", IntentIdentity},
		{"你是谁？", IntentIdentity},
		{"  Hello! ", IntentIdentity},
		{"Who are you?", IntentIdentity},
		{"hello, I first used AI in 2022 at work", IntentMessage},
		{"我第一次用 AI 是写周报", IntentMessage},
		{"", IntentMessage},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.msg); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}

func TestClassifierCustomRules(t *testing.T) {
	c := NewClassifierWithRules(
		Rule{Intent: IntentStart, Match: func(s string) bool { return s == "go" }},
		Rule{Intent: IntentExit, Match: func(s string) bool { return s == "go" || s == "stop" }},
	)
	if got := c.Classify("go"); got != IntentStart {
		t.Errorf("first matching rule should win, got %s", got)
	}
	if got := c.Classify("stop"); got != IntentExit {
		t.Errorf("got %s", got)
	}
}

func TestPhraseDetector(t *testing.T) {
	d := PhraseDetector(DefaultCatalog().DriftPhrases)
	for _, text := range []string{
		"I'm Amazon Q, an AI assistant.",
		"I cannot roleplay as a fictional character.",
		"抱歉，我无法扮演这个角色",
	} {
		if !d(text) {
			t.Errorf("expected drift for %q", text)
		}
	}
	if d("第二问：目前你最常用哪些 AI 工具？") {
		t.Error("in-character text flagged as drift")
	}
}
