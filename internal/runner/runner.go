// Package runner invokes the external assistant CLI with a prompt and an
// optional resumable session token. The prompt travels through a transient
// file bound to stdin, never through a shell.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Result is a successful assistant invocation.
type Result struct {
	// Text is the assistant's reply.
	Text string

	// CostUSD is the reported invocation cost; zero when the assistant
	// emitted plain text instead of the structured envelope.
	CostUSD float64

	// SessionID resumes this conversation on the next invocation. Empty
	// when the assistant did not report one.
	SessionID string
}

// Config configures the assistant invocation.
type Config struct {
	// Binary is the assistant executable, resolved via PATH.
	Binary string

	// Model is passed through to the assistant. Empty uses its default.
	Model string

	// MaxTurns bounds agentic turns per invocation. Zero means unbounded.
	MaxTurns int

	// Timeout is the hard per-invocation limit.
	Timeout time.Duration

	// MaxOutputBytes caps captured stdout/stderr.
	MaxOutputBytes int64

	// WorkDir is the assistant's working directory. Empty inherits ours.
	WorkDir string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Binary:         "claude",
		Timeout:        5 * time.Minute,
		MaxOutputBytes: 1 << 20,
	}
}

// Runner spawns one assistant process per Invoke call.
type Runner struct {
	cfg Config
	log *zap.Logger
}

// New creates a runner.
func New(cfg Config, log *zap.Logger) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 1 << 20
	}
	return &Runner{cfg: cfg, log: log}
}

// envelope is the assistant's structured output.
type envelope struct {
	Result       string  `json:"result"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	SessionID    string  `json:"session_id"`
	IsError      bool    `json:"is_error"`
}

// Invoke runs the assistant with the prompt, optionally resuming a prior
// session. Failures are classified; InvalidSession is returned to the
// caller, which owns the single resume-less retry.
func (r *Runner) Invoke(ctx context.Context, prompt, resumeToken string) (*Result, error) {
	tmp, err := os.CreateTemp("", "feedbridge-prompt-*.txt")
	if err != nil {
		return nil, &Error{Kind: KindOther, Message: "create prompt file", Err: err}
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.WriteString(prompt); err != nil {
		return nil, &Error{Kind: KindOther, Message: "write prompt file", Err: err}
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		return nil, &Error{Kind: KindOther, Message: "rewind prompt file", Err: err}
	}

	args := []string{"-p", "--output-format", "json"}
	if r.cfg.Model != "" {
		args = append(args, "--model", r.cfg.Model)
	}
	if r.cfg.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(r.cfg.MaxTurns))
	}
	if resumeToken != "" {
		args = append(args, "--resume", resumeToken)
	}

	execCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, r.cfg.Binary, args...)
	cmd.Dir = r.cfg.WorkDir
	cmd.Stdin = tmp

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, max: r.cfg.MaxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderr, max: r.cfg.MaxOutputBytes}

	start := time.Now()
	runErr := cmd.Run()
	r.log.Debug("assistant invocation finished",
		zap.Duration("duration", time.Since(start)),
		zap.Bool("resumed", resumeToken != ""),
		zap.Int("stdout_bytes", stdout.Len()))

	if runErr != nil {
		return nil, r.classify(runErr, execCtx, stdout.String(), stderr.String())
	}
	return r.parse(stdout.String())
}

// classify maps a process failure to a failure kind.
func (r *Runner) classify(runErr error, execCtx context.Context, stdout, stderr string) error {
	if errors.Is(runErr, exec.ErrNotFound) {
		return &Error{Kind: KindNotFound, Message: fmt.Sprintf("assistant binary %q not found", r.cfg.Binary), Err: runErr}
	}
	if execCtx.Err() == context.DeadlineExceeded {
		return &Error{Kind: KindTimeout, Message: fmt.Sprintf("assistant timed out after %s", r.cfg.Timeout), Err: runErr}
	}

	combined := stdout + "\n" + stderr
	if isInvalidSession(combined) {
		return &Error{Kind: KindInvalidSession, Message: "assistant rejected the resume token", Err: runErr}
	}

	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = strings.TrimSpace(stdout)
	}
	if msg == "" {
		msg = runErr.Error()
	}
	return &Error{Kind: KindOther, Message: firstLine(msg), Err: runErr}
}

// parse decodes the structured envelope, falling back to raw text with zero
// cost when the assistant printed something else.
func (r *Runner) parse(stdout string) (*Result, error) {
	trimmed := strings.TrimSpace(stdout)

	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return &Result{Text: trimmed}, nil
	}

	if env.IsError {
		if isInvalidSession(env.Result) {
			return nil, &Error{Kind: KindInvalidSession, Message: "assistant rejected the resume token"}
		}
		return nil, &Error{Kind: KindOther, Message: firstLine(env.Result)}
	}

	return &Result{
		Text:      env.Result,
		CostUSD:   env.TotalCostUSD,
		SessionID: env.SessionID,
	}, nil
}

// invalidSessionMarkers are the phrases the assistant uses when a resume
// token no longer names a live conversation.
var invalidSessionMarkers = []string{
	"no conversation found with session",
	"session not found",
	"invalid session",
}

func isInvalidSession(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range invalidSessionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
