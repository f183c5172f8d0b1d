package engine

import (
	"github.com/firebase/genkit/go/ai"

	"docchat/internal/session"
)

// QA is one question/answer exchange. Answer is empty when the user's
// question has no recorded reply yet.
type QA struct {
	Question string
	Answer   string
}

// PairTurns folds a flat turn log into question/answer pairs, oldest
// first. Consecutive user turns each open their own pair; an assistant
// turn closes the most recent open pair and stray assistant turns with
// no preceding question are dropped.
func PairTurns(turns []session.Turn) []QA {
	var pairs []QA
	open := false
	for _, t := range turns {
		switch t.Role {
		case session.RoleUser:
			pairs = append(pairs, QA{Question: t.Content})
			open = true
		case session.RoleAssistant:
			if open {
				pairs[len(pairs)-1].Answer = t.Content
				open = false
			}
		}
	}
	return pairs
}

// buildMessages converts the history plus the current question into the
// message list handed to the model.
func buildMessages(history []QA, question string) []*ai.Message {
	msgs := make([]*ai.Message, 0, 2*len(history)+1)
	for _, qa := range history {
		if qa.Question != "" {
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(qa.Question)))
		}
		if qa.Answer != "" {
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(qa.Answer)))
		}
	}
	msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(question)))
	return msgs
}
