package assessment

import (
	"strings"
	"unicode"
)

// Intent is what an inbound message asks the orchestrator to do.
type Intent int

const (
	IntentMessage Intent = iota
	IntentExit
	IntentStart
	IntentIdentity
)

func (i Intent) String() string {
	switch i {
	case IntentExit:
		return "exit"
	case IntentStart:
		return "start"
	case IntentIdentity:
		return "identity"
	default:
		return "message"
	}
}

// Rule pairs a predicate with the intent it yields.
type Rule struct {
	Intent Intent
	Match  func(msg string) bool
}

// Classifier evaluates rules in order; the first match wins.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds the standard rule order: exit, start, identity.
// Exit and start phrases match anywhere in the message; identity phrases
// must be the whole message so answers that merely say "hello" are kept.
func NewClassifier(t Triggers) *Classifier {
	return &Classifier{rules: []Rule{
		{Intent: IntentExit, Match: containsPhrase(t.Exit)},
		{Intent: IntentStart, Match: containsPhrase(t.Start)},
		{Intent: IntentIdentity, Match: equalsPhrase(t.Identity)},
	}}
}

// NewClassifierWithRules builds a classifier from explicit rules.
func NewClassifierWithRules(rules ...Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the intent of msg.
func (c *Classifier) Classify(msg string) Intent {
	for _, r := range c.rules {
		if r.Match(msg) {
			return r.Intent
		}
	}
	return IntentMessage
}

func containsPhrase(phrases []string) func(string) bool {
	norm := lowerAll(phrases)
	return func(msg string) bool {
		return containsAny(msg, norm)
	}
}

func equalsPhrase(phrases []string) func(string) bool {
	set := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		set[normalize(p)] = struct{}{}
	}
	return func(msg string) bool {
		_, ok := set[normalize(msg)]
		return ok
	}
}

// normalize lowercases and trims whitespace and punctuation at both ends.
func normalize(s string) string {
	return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	}))
}
