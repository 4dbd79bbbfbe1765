// Package bot runs the poll → resolve → dispatch → sleep cycle. Errors are
// isolated per message; only context cancellation ends the loop.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"feedbridge/internal/dispatch"
	"feedbridge/internal/feed"
	"feedbridge/internal/runner"
)

// Poller yields new feed messages. *feed.Reader satisfies it.
type Poller interface {
	Poll(ctx context.Context) ([]feed.Message, error)
}

// Invoker runs the assistant. *runner.Runner satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, prompt, resumeToken string) (*runner.Result, error)
}

// TokenStore persists resume tokens per channel. *sessions.Store satisfies
// it.
type TokenStore interface {
	Get(channel string) (string, bool)
	Set(channel, token string) error
	Invalidate(channel string) error
}

// Sender posts or logs a generated reply. *dispatch.Dispatcher satisfies it.
type Sender interface {
	Dispatch(ctx context.Context, trigger feed.Message, reply string) error
}

// Config holds loop configuration.
type Config struct {
	// ChannelKey names the monitored channel in the token store.
	ChannelKey string

	// ConversationMode resumes assistant sessions across messages.
	ConversationMode bool

	PollInterval time.Duration
	ErrorBackoff time.Duration
}

// Bot ties reader, runner, store, and dispatcher into one loop.
type Bot struct {
	cfg    Config
	log    *zap.Logger
	reader Poller
	runner Invoker
	store  TokenStore
	sender Sender

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a bot.
func New(cfg Config, reader Poller, invoker Invoker, store TokenStore, sender Sender, log *zap.Logger) *Bot {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 30 * time.Second
	}
	return &Bot{
		cfg:    cfg,
		log:    log,
		reader: reader,
		runner: invoker,
		store:  store,
		sender: sender,
		sleep:  sleepCtx,
	}
}

// Run drives the loop until ctx is cancelled. A failed poll sleeps the
// error backoff instead of the poll interval; a failed message is logged
// and the loop moves on.
func (b *Bot) Run(ctx context.Context) error {
	b.log.Info("loop started",
		zap.String("channel", b.cfg.ChannelKey),
		zap.Duration("poll_interval", b.cfg.PollInterval))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := b.reader.Poll(ctx)
		if err != nil {
			b.log.Error("poll failed, backing off", zap.Error(err))
			if err := b.sleep(ctx, b.cfg.ErrorBackoff); err != nil {
				return err
			}
			continue
		}

		for _, msg := range msgs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := b.handle(ctx, msg); err != nil {
				b.log.Error("message processing failed",
					zap.String("message_id", msg.ID),
					zap.String("author", msg.Author),
					zap.Error(err))
			}
		}

		if err := b.sleep(ctx, b.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// handle runs one message through the assistant and dispatches the result.
func (b *Bot) handle(ctx context.Context, msg feed.Message) error {
	b.log.Info("handling message",
		zap.String("message_id", msg.ID),
		zap.String("author", msg.Author))

	prompt := msg.Content
	if b.cfg.ConversationMode {
		// A shared session sees several speakers; keep them apart.
		prompt = fmt.Sprintf("%s: %s", msg.Author, msg.Content)
	}

	var token string
	if b.cfg.ConversationMode {
		token, _ = b.store.Get(b.cfg.ChannelKey)
	}

	res, err := b.runner.Invoke(ctx, prompt, token)
	if err != nil && token != "" && runner.KindOf(err) == runner.KindInvalidSession {
		b.log.Warn("resume token rejected, starting fresh session",
			zap.String("channel", b.cfg.ChannelKey))
		if serr := b.store.Invalidate(b.cfg.ChannelKey); serr != nil {
			b.log.Warn("session invalidation flush failed", zap.Error(serr))
		}
		res, err = b.runner.Invoke(ctx, prompt, "")
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		reply := dispatch.FormatError(msg.Author, failureText(err))
		return b.sender.Dispatch(ctx, msg, reply)
	}

	if b.cfg.ConversationMode && res.SessionID != "" {
		if serr := b.store.Set(b.cfg.ChannelKey, res.SessionID); serr != nil {
			b.log.Warn("session flush failed", zap.Error(serr))
		}
	}

	reply := dispatch.FormatReply(msg.Author, res.CostUSD, res.Text)
	return b.sender.Dispatch(ctx, msg, reply)
}

// failureText renders an invocation failure for the feed.
func failureText(err error) string {
	var rerr *runner.Error
	if errors.As(err, &rerr) {
		switch rerr.Kind {
		case runner.KindNotFound:
			return "assistant unavailable"
		case runner.KindTimeout:
			return "assistant timed out"
		}
		if rerr.Message != "" {
			return rerr.Message
		}
	}
	return err.Error()
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
