package feed

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reader polls a Snapshotter and emits new, non-bot, non-empty messages in
// feed order. It owns the dedup cursor and the last-known-author fallback;
// one Reader instance per monitored channel, touched only by the loop that
// owns it.
type Reader struct {
	src          Snapshotter
	log          *zap.Logger
	botName      string
	startupLimit int

	lastSeenID      string
	lastKnownAuthor string

	now func() time.Time
}

// NewReader creates a reader. startupLimit governs the first poll: 0 skips
// all visible history, N>0 emits the newest N records, negative emits all.
func NewReader(src Snapshotter, botName string, startupLimit int, log *zap.Logger) *Reader {
	return &Reader{
		src:          src,
		log:          log,
		botName:      botName,
		startupLimit: startupLimit,
		now:          time.Now,
	}
}

// Poll extracts the visible feed, resolves authors, and returns the records
// that appeared since the previous poll. A failed snapshot is logged and
// surfaced so the loop can back off; the cursor is left untouched.
func (r *Reader) Poll(ctx context.Context) ([]Message, error) {
	raws, err := r.src.Snapshot(ctx)
	if err != nil {
		r.log.Warn("feed snapshot failed", zap.Error(err))
		return nil, err
	}

	records := r.resolve(raws)
	r.rememberAuthor(records)
	emitted := r.window(records)

	out := make([]Message, 0, len(emitted))
	for _, m := range emitted {
		if m.Content == "" || m.Author == r.botName {
			continue
		}
		out = append(out, m)
	}

	r.log.Debug("poll complete",
		zap.Int("visible", len(records)),
		zap.Int("emitted", len(out)),
		zap.String("cursor", r.lastSeenID))
	return out, nil
}

// LastKnownAuthor returns the most recent non-bot author seen across polls.
func (r *Reader) LastKnownAuthor() string { return r.lastKnownAuthor }

// resolve turns raw extractions into records with resolved authors.
// Headed messages carry their own username; continuation messages run the
// strategy list in order, first non-empty answer wins.
func (r *Reader) resolve(raws []RawMessage) []Message {
	records := make([]Message, 0, len(raws))
	for i, raw := range raws {
		msg := Message{
			ID:        raw.ID,
			Content:   raw.Content,
			Timestamp: raw.Timestamp,
			headerRef: raw.HeaderRef,
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.Timestamp == "" {
			msg.Timestamp = r.now().UTC().Format(time.RFC3339)
		}

		if raw.Username != "" {
			msg.Author = raw.Username
		} else {
			msg.Author = r.inferAuthor(i, records, raws)
		}
		records = append(records, msg)
	}
	return records
}

// inferAuthor resolves a continuation message's author.
func (r *Reader) inferAuthor(idx int, resolved []Message, raws []RawMessage) string {
	for _, strat := range continuationStrategies {
		if author := strat.resolve(r, idx, resolved, raws); author != "" {
			return author
		}
	}
	return UnknownAuthor
}

// rememberAuthor advances the cross-poll author fallback to the last
// resolved non-bot author of this snapshot, in feed order.
func (r *Reader) rememberAuthor(records []Message) {
	for _, m := range records {
		if m.Author != "" && m.Author != UnknownAuthor && m.Author != r.botName {
			r.lastKnownAuthor = m.Author
		}
	}
}

// window applies dedup and the startup policy, then advances the cursor to
// the newest id of the full snapshot regardless of what was emitted.
func (r *Reader) window(records []Message) []Message {
	if len(records) == 0 {
		return nil
	}

	var emitted []Message
	if r.lastSeenID == "" {
		switch {
		case r.startupLimit == 0:
			emitted = nil
		case r.startupLimit < 0:
			emitted = records
		case len(records) > r.startupLimit:
			emitted = records[len(records)-r.startupLimit:]
		default:
			emitted = records
		}
	} else {
		// Everything up to and including the cursor is old. A cursor
		// missing from a redrawn snapshot means everything is new.
		idx := -1
		for i := len(records) - 1; i >= 0; i-- {
			if records[i].ID == r.lastSeenID {
				idx = i
				break
			}
		}
		emitted = records[idx+1:]
	}

	r.lastSeenID = records[len(records)-1].ID
	return emitted
}
