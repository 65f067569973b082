// Package conversation holds the client-side state of one chat session: the
// ordered message log, the active context document, the staged attachment,
// and the controller that runs the send-turn protocol against a Transport.
package conversation

import "github.com/chatmancer/chatmancer/internal/reply"

// Role identifies the author of a message.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Message is one turn in the log. Human messages always carry a PlainText
// body.
type Message struct {
	Role Role
	Body reply.Variant
}

// Log is the ordered, append-only message sequence. Log is not safe for
// concurrent use; Controller serializes access to it.
type Log struct {
	msgs     []Message
	appended bool // any AppendHuman/AppendAssistant has happened
	seeded   bool
}

// AppendHuman appends a human plain-text message and returns the new length.
func (l *Log) AppendHuman(text string) int {
	l.msgs = append(l.msgs, Message{Role: RoleHuman, Body: reply.PlainText(text)})
	l.appended = true
	return len(l.msgs)
}

// AppendAssistant appends an assistant message carrying v and returns the
// new length.
func (l *Log) AppendAssistant(v reply.Variant) int {
	l.msgs = append(l.msgs, Message{Role: RoleAssistant, Body: v})
	l.appended = true
	return len(l.msgs)
}

// ReplaceSeed installs history fetched from the backend. It succeeds at most
// once and only while nothing has been appended, so a late history response
// cannot clobber a send made before it arrived. Reports whether the seed was
// installed.
func (l *Log) ReplaceSeed(msgs []Message) bool {
	if l.appended || l.seeded {
		return false
	}
	l.msgs = make([]Message, len(msgs))
	copy(l.msgs, msgs)
	l.seeded = true
	return true
}

// Len returns the number of messages.
func (l *Log) Len() int {
	return len(l.msgs)
}

// Messages returns a copy of the log in insertion order.
func (l *Log) Messages() []Message {
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// MessagesFromTurns converts backend history into log messages, classifying
// every assistant payload.
func MessagesFromTurns(turns []reply.Turn) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		if t.Speaker == reply.SpeakerHuman {
			out = append(out, Message{Role: RoleHuman, Body: reply.PlainText(t.Payload.Text)})
			continue
		}
		out = append(out, Message{Role: RoleAssistant, Body: reply.Classify(t.Payload)})
	}
	return out
}
