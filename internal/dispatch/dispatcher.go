// Package dispatch formats replies and posts them to the feed in chunks the
// host will accept, or logs them when posting is filtered off.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"feedbridge/internal/feed"
)

// Poster writes one message into the live feed.
type Poster interface {
	SendMessage(ctx context.Context, text string) error
}

// Config controls posting behavior.
type Config struct {
	// MaxMessageLength is the host's per-message length limit.
	MaxMessageLength int

	// Delay is the pause between consecutive chunk sends.
	Delay time.Duration

	// TestingMode logs every reply instead of posting it.
	TestingMode bool

	// Filter, when set, posts only replies whose triggering message
	// mentions the token; everything else is log-only.
	Filter string
}

// Dispatcher posts or logs generated replies.
type Dispatcher struct {
	poster Poster
	cfg    Config
	log    *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a dispatcher.
func New(poster Poster, cfg Config, log *zap.Logger) *Dispatcher {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 2000
	}
	return &Dispatcher{
		poster: poster,
		cfg:    cfg,
		log:    log,
		sleep:  sleepCtx,
	}
}

// FormatReply renders a normal reply: @author [$cost] text.
func FormatReply(author string, costUSD float64, text string) string {
	return fmt.Sprintf("@%s [$%.4f] %s", author, costUSD, text)
}

// FormatError renders a failure reply for the triggering author.
func FormatError(author, message string) string {
	return fmt.Sprintf("@%s Error: %s", author, message)
}

// ShouldPost decides whether a reply to the given triggering content goes to
// the live feed or only to the log.
func (d *Dispatcher) ShouldPost(triggerContent string) bool {
	if d.cfg.TestingMode {
		return false
	}
	if d.cfg.Filter == "" {
		return true
	}
	lower := strings.ToLower(triggerContent)
	token := strings.ToLower(d.cfg.Filter)
	return strings.Contains(lower, token) || strings.Contains(lower, "@"+token)
}

// Dispatch posts the reply in chunks, or logs it when filtered off. Chunk
// sends after the first wait the configured delay.
func (d *Dispatcher) Dispatch(ctx context.Context, trigger feed.Message, reply string) error {
	if !d.ShouldPost(trigger.Content) {
		d.log.Info("reply withheld from feed",
			zap.String("message_id", trigger.ID),
			zap.String("author", trigger.Author),
			zap.String("reply", reply))
		return nil
	}

	chunks := Split(reply, d.cfg.MaxMessageLength)
	for i, chunk := range chunks {
		if i > 0 && d.cfg.Delay > 0 {
			if err := d.sleep(ctx, d.cfg.Delay); err != nil {
				return err
			}
		}
		if err := d.poster.SendMessage(ctx, chunk); err != nil {
			return fmt.Errorf("post chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}

	d.log.Debug("reply posted",
		zap.String("message_id", trigger.ID),
		zap.Int("chunks", len(chunks)))
	return nil
}

// Split breaks text into chunks of at most max characters, preferring line
// boundaries. A single line longer than max is hard-split on a rune
// boundary; the host counts characters, not bytes, so length accounting is
// rune-based throughout.
func Split(text string, max int) []string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var chunks []string
	var cur []string
	curLen := 0
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, "\n"))
			cur = nil
			curLen = 0
		}
	}

	for _, line := range strings.Split(text, "\n") {
		lineLen := utf8.RuneCountInString(line)
		for lineLen > max {
			flush()
			cut := runeOffset(line, max)
			chunks = append(chunks, line[:cut])
			line = line[cut:]
			lineLen -= max
		}
		add := lineLen
		if len(cur) > 0 {
			add++ // joining newline
		}
		if curLen+add > max {
			flush()
			add = lineLen
		}
		cur = append(cur, line)
		curLen += add
	}
	flush()
	return chunks
}

// runeOffset returns the byte offset of the n-th rune in s.
func runeOffset(s string, n int) int {
	i := 0
	for ; n > 0 && i < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
