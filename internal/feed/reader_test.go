package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	queue [][]RawMessage
	err   error
}

func (f *fakeSource) Snapshot(ctx context.Context) ([]RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.queue) == 0 {
		return nil, nil
	}
	next := f.queue[0]
	if len(f.queue) > 1 {
		f.queue = f.queue[1:]
	}
	return next, nil
}

func newTestReader(src Snapshotter, botName string, startupLimit int) *Reader {
	r := NewReader(src, botName, startupLimit, zap.NewNop())
	r.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func headed(id, author, content string) RawMessage {
	return RawMessage{ID: id, Username: author, Content: content, HeaderRef: "hdr-" + author}
}

func continuation(id, content string) RawMessage {
	return RawMessage{ID: id, Content: content}
}

func authorsOf(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Author
	}
	return out
}

func idsOf(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestContinuationInference(t *testing.T) {
	src := &fakeSource{queue: [][]RawMessage{{
		headed("m1", "A", "hi"),
		continuation("m2", "there"),
	}}}
	r := newTestReader(src, "Bot", -1)

	msgs, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"A", "A"}, authorsOf(msgs))
}

func TestContinuationSkipsBotAuthors(t *testing.T) {
	src := &fakeSource{queue: [][]RawMessage{{
		headed("m1", "A", "hi"),
		headed("m2", "Bot", "my reply"),
		continuation("m3", "follow-up"),
	}}}
	r := newTestReader(src, "Bot", -1)

	msgs, err := r.Poll(context.Background())
	require.NoError(t, err)
	// The bot's own message is excluded, and the continuation attributes
	// to A, not to the bot.
	require.Equal(t, []string{"m1", "m3"}, idsOf(msgs))
	require.Equal(t, []string{"A", "A"}, authorsOf(msgs))
}

func TestHeaderRefBeatsRenderOrder(t *testing.T) {
	src := &fakeSource{queue: [][]RawMessage{{
		headed("m1", "A", "first"),
		headed("m2", "B", "second"),
		{ID: "m3", Content: "continuation of A", HeaderRef: "hdr-A"},
	}}}
	r := newTestReader(src, "Bot", -1)

	msgs, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "A"}, authorsOf(msgs))
}

func TestUnknownAuthorStillEmitted(t *testing.T) {
	src := &fakeSource{queue: [][]RawMessage{{
		continuation("m1", "orphan"),
	}}}
	r := newTestReader(src, "Bot", -1)

	msgs, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, UnknownAuthor, msgs[0].Author)
}

func TestEmptyContentDropped(t *testing.T) {
	src := &fakeSource{queue: [][]RawMessage{{
		headed("m1", "A", "hi"),
		headed("m2", "B", ""),
	}}}
	r := newTestReader(src, "Bot", -1)

	msgs, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"m1"}, idsOf(msgs))
}

func TestStartupWindow(t *testing.T) {
	visible := []RawMessage{
		headed("m1", "A", "one"),
		headed("m2", "A", "two"),
		headed("m3", "B", "three"),
		headed("m4", "B", "four"),
		headed("m5", "A", "five"),
	}

	tests := []struct {
		name    string
		limit   int
		wantIDs []string
	}{
		{"zero skips history", 0, nil},
		{"limit three emits newest three", 3, []string{"m3", "m4", "m5"}},
		{"limit above size emits all", 10, []string{"m1", "m2", "m3", "m4", "m5"}},
		{"negative emits all", -1, []string{"m1", "m2", "m3", "m4", "m5"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeSource{queue: [][]RawMessage{visible}}
			r := newTestReader(src, "Bot", tc.limit)

			msgs, err := r.Poll(context.Background())
			require.NoError(t, err)
			if diff := cmp.Diff(tc.wantIDs, idsOf(msgs)); tc.wantIDs != nil && diff != "" {
				t.Errorf("emitted ids mismatch (-want +got):\n%s", diff)
			}
			if tc.wantIDs == nil {
				require.Empty(t, msgs)
			}
			// The cursor always lands on the newest visible id, even
			// when nothing was emitted.
			require.Equal(t, "m5", r.lastSeenID)
		})
	}
}

func TestPollIdempotence(t *testing.T) {
	visible := []RawMessage{
		headed("m1", "A", "one"),
		headed("m2", "B", "two"),
	}
	src := &fakeSource{queue: [][]RawMessage{visible, visible}}
	r := newTestReader(src, "Bot", -1)

	first, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Empty(t, second)
}

func TestSteadyStateEmitsOnlyNew(t *testing.T) {
	src := &fakeSource{queue: [][]RawMessage{
		{headed("m1", "A", "one")},
		{headed("m1", "A", "one"), headed("m2", "B", "two"), continuation("m3", "more")},
	}}
	r := newTestReader(src, "Bot", 0)

	first, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Empty(t, first)

	second, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"m2", "m3"}, idsOf(second))
	require.Equal(t, []string{"B", "B"}, authorsOf(second))
}

func TestLastKnownAuthorSeedsNextPoll(t *testing.T) {
	src := &fakeSource{queue: [][]RawMessage{
		{headed("m1", "A", "one")},
		// Host collapsed the redraw down to a lone continuation.
		{continuation("m2", "still me")},
	}}
	r := newTestReader(src, "Bot", -1)

	_, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A", r.LastKnownAuthor())

	second, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"A"}, authorsOf(second))
}

func TestCursorMissingFromRedrawnSnapshot(t *testing.T) {
	src := &fakeSource{queue: [][]RawMessage{
		{headed("m1", "A", "one")},
		{headed("n1", "B", "fresh"), headed("n2", "B", "feed")},
	}}
	r := newTestReader(src, "Bot", -1)

	_, err := r.Poll(context.Background())
	require.NoError(t, err)

	second, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"n1", "n2"}, idsOf(second))
	require.Equal(t, "n2", r.lastSeenID)
}

func TestSnapshotFailureLeavesCursorAlone(t *testing.T) {
	src := &fakeSource{err: errors.New("page gone")}
	r := newTestReader(src, "Bot", -1)
	r.lastSeenID = "m9"

	msgs, err := r.Poll(context.Background())
	require.Error(t, err)
	require.Empty(t, msgs)
	require.Equal(t, "m9", r.lastSeenID)
}

func TestDefaultsForMissingIDAndTimestamp(t *testing.T) {
	src := &fakeSource{queue: [][]RawMessage{{
		{Username: "A", Content: "no id, no time"},
	}}}
	r := newTestReader(src, "Bot", -1)

	msgs, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotEmpty(t, msgs[0].ID)
	require.Equal(t, "2025-06-01T12:00:00Z", msgs[0].Timestamp)
}

func TestEmptySnapshotIsNotStartupConsuming(t *testing.T) {
	src := &fakeSource{queue: [][]RawMessage{
		nil,
		{headed("m1", "A", "one"), headed("m2", "A", "two")},
	}}
	r := newTestReader(src, "Bot", 1)

	first, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Empty(t, first)

	// The cursor was never set, so the startup window still applies.
	second, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"m2"}, idsOf(second))
}
