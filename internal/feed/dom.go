package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// SelectorSet holds the prioritized CSS fallback lists used to reconstruct
// message structure from host markup that carries no stable contract. Each
// list is tried in order, first match wins; the lists are data so they can
// be reordered or extended from configuration without touching extraction
// logic.
type SelectorSet struct {
	// Content matches the message body nodes enumerated in document order.
	Content []string `json:"content"`

	// Container resolves a content node's enclosing message element:
	// explicit id prefix, then class pattern, then nearest list item.
	Container []string `json:"container"`

	// Username matches the author header inside a container.
	Username []string `json:"username"`

	// Quote matches reply-preview wrappers; usernames inside them belong
	// to the quoted message, not this one, and are ignored.
	Quote []string `json:"quote"`

	// Timestamp matches the element carrying a datetime attribute.
	Timestamp []string `json:"timestamp"`
}

// DefaultSelectors returns the fallback lists for the host markup observed
// in the wild.
func DefaultSelectors() SelectorSet {
	return SelectorSet{
		Content: []string{
			`div[id^="message-content-"]`,
			`[class*="messageContent"]`,
		},
		Container: []string{
			`li[id^="chat-messages-"]`,
			`li[class*="messageListItem"]`,
			`li`,
		},
		Username: []string{
			`[id^="message-username-"]`,
			`[class*="username"]`,
		},
		Quote: []string{
			`[id^="message-reply-context-"]`,
			`[class*="repliedMessage"]`,
			`blockquote`,
		},
		Timestamp: []string{
			`time`,
		},
	}
}

// merge overlays non-empty override lists onto the receiver.
func (s SelectorSet) merge(over SelectorSet) SelectorSet {
	if len(over.Content) > 0 {
		s.Content = over.Content
	}
	if len(over.Container) > 0 {
		s.Container = over.Container
	}
	if len(over.Username) > 0 {
		s.Username = over.Username
	}
	if len(over.Quote) > 0 {
		s.Quote = over.Quote
	}
	if len(over.Timestamp) > 0 {
		s.Timestamp = over.Timestamp
	}
	return s
}

// Evaluator runs a JS function in the live page. *browser.Session satisfies
// it.
type Evaluator interface {
	Eval(ctx context.Context, js string, args ...interface{}) (json.RawMessage, error)
}

// DOMSource is the rod-backed Snapshotter. All structural heuristics live in
// the extraction script; Go only decodes the result.
type DOMSource struct {
	eval Evaluator
	sel  SelectorSet
	log  *zap.Logger
}

// NewDOMSource creates a snapshotter over the live page. Empty override
// lists in sel keep the defaults.
func NewDOMSource(eval Evaluator, sel SelectorSet, log *zap.Logger) *DOMSource {
	return &DOMSource{
		eval: eval,
		sel:  DefaultSelectors().merge(sel),
		log:  log,
	}
}

// Selectors returns the effective selector set.
func (d *DOMSource) Selectors() SelectorSet { return d.sel }

// Snapshot enumerates every visible message in document order.
func (d *DOMSource) Snapshot(ctx context.Context) ([]RawMessage, error) {
	raw, err := d.eval.Eval(ctx, extractScript, d.sel)
	if err != nil {
		return nil, fmt.Errorf("extract feed: %w", err)
	}

	var msgs []RawMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("decode feed snapshot: %w", err)
	}
	return msgs, nil
}

// extractScript reconstructs message records in-page. Selector strategies
// arrive as an argument so the script never changes when the lists do.
// Malformed selectors are swallowed per strategy; a message that resolves no
// container or username still yields a record with those fields empty.
const extractScript = `
(sel) => {
	const query = (root, list) => {
		for (const s of list || []) {
			try {
				const found = root.querySelectorAll(s);
				if (found.length) return Array.from(found);
			} catch (e) {}
		}
		return [];
	};
	const closestOf = (node, list) => {
		for (const s of list || []) {
			try {
				const el = node.closest(s);
				if (el) return el;
			} catch (e) {}
		}
		return node.parentElement;
	};
	const insideAny = (el, list) => {
		for (const s of list || []) {
			try {
				if (el.closest(s)) return true;
			} catch (e) {}
		}
		return false;
	};

	return query(document, sel.content).map((node) => {
		const container = closestOf(node, sel.container);
		let username = '';
		let headerRef = '';
		let timestamp = '';
		if (container) {
			const own = query(container, sel.username)
				.find((el) => !insideAny(el, sel.quote));
			if (own) username = (own.textContent || '').trim();

			const labels = (container.getAttribute('aria-labelledby') || '').split(/\s+/);
			headerRef = labels.find((t) => t.indexOf('message-username') === 0) || '';

			const ts = query(container, sel.timestamp)[0];
			if (ts) timestamp = ts.getAttribute('datetime') || '';
		}
		return {
			id: node.id || (container && container.id) || '',
			content: (node.innerText || node.textContent || '').trim(),
			username: username,
			headerRef: headerRef,
			timestamp: timestamp,
		};
	});
}
`
