package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// LoopOptions parameterizes an AgentLoopRunner.Run call (spec.md §4.10).
type LoopOptions struct {
	TurnOptions

	MaxIterations       int
	AutoCompactFraction float64
	PreserveLastN       int
	ContextWindow       float64
	WallClockTimeout    time.Duration
}

// DefaultLoopOptions returns the spec's default tuning.
func DefaultLoopOptions() LoopOptions {
	return LoopOptions{
		MaxIterations:       25,
		AutoCompactFraction: 0.8,
		PreserveLastN:       4,
		ContextWindow:       128_000,
	}
}

// Summarizer produces a compaction summary for messages older than the
// preserved tail, via a single-shot no-tools turn against the same provider.
type Summarizer interface {
	Summarize(ctx context.Context, conv *Conversation) (string, error)
}

// AgentLoopRunner drives AgentTurnEngine.Run to a fixed point: terminal
// outcome, cancellation, or the iteration cap, triggering compaction along the
// way when the conversation approaches the context window (spec.md §4.10).
type AgentLoopRunner struct {
	Engine     *AgentTurnEngine
	Summarizer Summarizer
	Logger     *slog.Logger

	cancelOnce     bool
	lastCancelTime time.Time
}

// NewAgentLoopRunner wires a loop runner around an already-constructed turn
// engine.
func NewAgentLoopRunner(engine *AgentTurnEngine, summarizer Summarizer, logger *slog.Logger) *AgentLoopRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentLoopRunner{Engine: engine, Summarizer: summarizer, Logger: logger}
}

// Run iterates turns against conv until one is terminal, the iteration cap is
// hit, or ctx is cancelled. It always leaves the conversation with no
// dangling function calls.
func (r *AgentLoopRunner) Run(ctx context.Context, conv *Conversation, opts LoopOptions) error {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 25
	}
	if opts.AutoCompactFraction <= 0 {
		opts.AutoCompactFraction = 0.8
	}
	if opts.PreserveLastN <= 0 {
		opts.PreserveLastN = 4
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = 128_000
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.WallClockTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.WallClockTimeout)
		defer cancel()
	}

	for i := 0; i < opts.MaxIterations; i++ {
		if runCtx.Err() != nil {
			conv.FillDanglingCalls()
			return runCtx.Err()
		}

		if opts.ContextWindow > 0 && conv.EstimateTokens()/opts.ContextWindow >= opts.AutoCompactFraction {
			if err := r.compact(runCtx, conv, opts.PreserveLastN); err != nil {
				r.Logger.Warn("compaction failed, continuing without it", "error", err)
			}
		}

		outcome, err := r.Engine.Run(runCtx, conv, opts.TurnOptions)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				conv.FillDanglingCalls()
				return err
			}
			conv.FillDanglingCalls()
			return err
		}
		if outcome.Terminal {
			return nil
		}
	}

	conv.FillDanglingCalls()
	conv.AppendAssistant("Agent reached maximum iterations without completing.", nil)
	return ErrMaxIterations
}

// compact asks the summarizer (if configured) for a digest of the
// to-be-dropped history and replaces it via Conversation.CompactWithSummary.
func (r *AgentLoopRunner) compact(ctx context.Context, conv *Conversation, preserveLastN int) error {
	if r.Summarizer == nil {
		return nil
	}
	summary, err := r.Summarizer.Summarize(ctx, conv)
	if err != nil {
		return err
	}
	conv.CompactWithSummary(summary, preserveLastN)
	return nil
}

// Cancel reports whether this call terminates the process outright: a first
// cancellation signal cancels the in-flight turn (returns false); a second
// within two seconds of the first means the caller should terminate the
// process (returns true). Callers own the actual cancel()/os.Exit.
func (r *AgentLoopRunner) Cancel() (terminateProcess bool) {
	now := time.Now()
	if r.cancelOnce && now.Sub(r.lastCancelTime) < 2*time.Second {
		return true
	}
	r.cancelOnce = true
	r.lastCancelTime = now
	return false
}
