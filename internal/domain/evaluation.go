// Package domain contains the persisted record types.
package domain

import (
	"time"
)

// Evaluation is a finished assessment stored for history.
type Evaluation struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionId"`
	Tier       string         `json:"tier"`
	Title      string         `json:"title"`
	Scores     map[string]int `json:"tierScores"`
	Answers    map[int]string `json:"answers"`
	Transcript string         `json:"transcript"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// AnsweredCount returns how many questions have a recorded answer.
func (e *Evaluation) AnsweredCount() int {
	n := 0
	for _, a := range e.Answers {
		if a != "" {
			n++
		}
	}
	return n
}
