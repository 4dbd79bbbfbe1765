//go:build integration

package browser_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"feedbridge/internal/browser"
	"feedbridge/internal/feed"
)

// feedPage renders a minimal host-like channel: two headed messages, one
// continuation, and a composer.
const feedPage = `<html><body>
<ol>
  <li id="chat-messages-1" aria-labelledby="message-username-1 message-content-1">
    <span id="message-username-1">alice</span>
    <time datetime="2025-06-01T12:00:00.000Z"></time>
    <div id="message-content-1">hello there</div>
  </li>
  <li id="chat-messages-2" aria-labelledby="message-username-2 message-content-2">
    <span id="message-username-2">bob</span>
    <div id="message-content-2">hi alice</div>
  </li>
  <li id="chat-messages-3" aria-labelledby="message-username-2 message-content-3">
    <div id="message-content-3">how are you?</div>
  </li>
</ol>
<div role="textbox" contenteditable="true"></div>
</body></html>`

func startSession(t *testing.T, ctx context.Context) (*browser.Session, string) {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedPage)
	}))
	t.Cleanup(ts.Close)

	cfg := browser.DefaultConfig()
	cfg.NavigationTimeout = 10 * time.Second

	s := browser.New(cfg, zap.NewNop())
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Navigate(ctx, ts.URL))
	return s, ts.URL
}

func TestSession_FeedExtraction_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s, _ := startSession(t, ctx)

	src := feed.NewDOMSource(s, feed.SelectorSet{}, zap.NewNop())
	require.NoError(t, s.WaitVisible(ctx, src.Selectors().Content, 10*time.Second))

	raws, err := src.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, raws, 3)

	require.Equal(t, "message-content-1", raws[0].ID)
	require.Equal(t, "alice", raws[0].Username)
	require.Equal(t, "2025-06-01T12:00:00.000Z", raws[0].Timestamp)

	// The continuation row has no header of its own but carries bob's
	// aria reference.
	require.Empty(t, raws[2].Username)
	require.Equal(t, "message-username-2", raws[2].HeaderRef)

	r := feed.NewReader(src, "FeedBridge", -1, zap.NewNop())
	msgs, err := r.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "bob", msgs[2].Author)
}

func TestSession_SendMessage_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s, _ := startSession(t, ctx)
	require.NoError(t, s.WaitVisible(ctx, []string{`div[role="textbox"]`}, 10*time.Second))

	require.NoError(t, s.SendMessage(ctx, "ping"))

	raw, err := s.Eval(ctx, `() => document.querySelector('div[role="textbox"]').textContent`)
	require.NoError(t, err)
	var text string
	require.NoError(t, json.Unmarshal(raw, &text))
	require.Equal(t, "ping", text)
}
