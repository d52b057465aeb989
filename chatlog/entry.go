// Package chatlog implements ChatEntry and the in-memory chat history
// (spec.md §3, §4.7). The log is append-mostly; assistant entries are
// mutable in place while streaming. History also carries the
// thinking-tag convention end to end: a rawContent field retains the
// model's original bytes, a content field carries the presentational
// form.
package chatlog

import "time"

// Kind is the ChatEntry discriminator.
type Kind string

const (
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	KindSystem    Kind = "system"
	KindThinking  Kind = "thinking"
)

// Entry is one chat log record. Assistant entries accumulate Content and
// RawContent in place while streaming (Complete == false) until the
// terminal chunk arrives.
type Entry struct {
	Kind       Kind
	Content    string
	RawContent string
	RequestId  string
	FromPeer   string
	Timestamp  time.Time
	Complete   bool
}
