// Package feed reconstructs structured message records from the host chat
// application's rendered feed and resolves authors for continuation messages.
package feed

import "context"

// UnknownAuthor marks a record whose author could not be resolved. Such
// records are still emitted; downstream decides what to do with them.
const UnknownAuthor = "Unknown"

// Message is one reconstructed feed message.
type Message struct {
	// ID is the host-assigned identifier of the message's content node.
	// Stable within a polling session, not across long-term re-renders.
	ID string

	// Author is the resolved display name, or UnknownAuthor.
	Author string

	// Content is the extracted plain text of the body.
	Content string

	// Timestamp is ISO-8601; the extraction time when the host gives none.
	Timestamp string

	// headerRef is the id of the username header this message's
	// accessibility relation points at. Continuation resolution only.
	headerRef string
}

// RawMessage is the unresolved output of a single DOM extraction pass.
type RawMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Username  string `json:"username"`
	HeaderRef string `json:"headerRef"`
	Timestamp string `json:"timestamp"`
}

// Snapshotter produces the currently visible feed in document order,
// oldest first.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]RawMessage, error)
}
