package feed

// authorStrategy resolves a continuation message's author from the snapshot
// context. Strategies are pure: they read state but never mutate it. An
// empty return means "no answer, try the next one".
type authorStrategy struct {
	name    string
	resolve func(r *Reader, idx int, resolved []Message, raws []RawMessage) string
}

// continuationStrategies is the ordered fallback list for messages rendered
// without their own username header. Order matters: the ARIA relationship is
// the most reliable signal, render-order inference is next, and the
// cross-poll fallback only fires when the snapshot opens with a
// continuation message.
var continuationStrategies = []authorStrategy{
	{name: "header-ref", resolve: resolveByHeaderRef},
	{name: "prior-author", resolve: resolveByPriorAuthor},
	{name: "last-known", resolve: resolveByLastKnown},
}

// resolveByHeaderRef follows the accessibility relation: a continuation
// message labelled by the same username header as an earlier headed message
// shares that message's author.
func resolveByHeaderRef(r *Reader, idx int, resolved []Message, raws []RawMessage) string {
	ref := raws[idx].HeaderRef
	if ref == "" {
		return ""
	}
	for j := idx - 1; j >= 0; j-- {
		if raws[j].HeaderRef != ref {
			continue
		}
		author := resolved[j].Author
		if author != "" && author != UnknownAuthor {
			return author
		}
	}
	return ""
}

// resolveByPriorAuthor walks backward through render order to the nearest
// record whose author is resolved and is not the bot.
func resolveByPriorAuthor(r *Reader, idx int, resolved []Message, raws []RawMessage) string {
	for j := idx - 1; j >= 0; j-- {
		author := resolved[j].Author
		if author != "" && author != UnknownAuthor && author != r.botName {
			return author
		}
	}
	return ""
}

// resolveByLastKnown falls back to the most recent non-bot author seen on a
// previous poll.
func resolveByLastKnown(r *Reader, idx int, resolved []Message, raws []RawMessage) string {
	return r.lastKnownAuthor
}
