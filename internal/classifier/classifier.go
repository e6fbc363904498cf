// Package classifier asks the oracle for an Analysis of each inbound message
// and never lets a bad answer escape: anything unusable becomes the
// fallback analysis.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/closer/internal/analysis"
	"github.com/MikeSquared-Agency/closer/internal/conversation"
)

// Oracle is the external classifier. Its output is untrusted text.
type Oracle interface {
	Classify(ctx context.Context, instructions, message string) (string, error)
}

type Adapter struct {
	oracle       Oracle
	instructions string
	timeout      time.Duration
	window       int
	logger       *slog.Logger
}

// New builds an adapter whose instructions embed the Analysis JSON Schema.
func New(oracle Oracle, timeout time.Duration, window int, logger *slog.Logger) (*Adapter, error) {
	_, schemaJSON, err := analysis.Schema()
	if err != nil {
		return nil, fmt.Errorf("analysis schema: %w", err)
	}
	if window <= 0 {
		window = 5
	}
	return &Adapter{
		oracle:       oracle,
		instructions: buildInstructions(schemaJSON),
		timeout:      timeout,
		window:       window,
		logger:       logger,
	}, nil
}

// Analyze always returns a complete Analysis. Oracle failures, timeouts and
// invalid output are logged and resolved to analysis.Fallback().
func (a *Adapter) Analyze(ctx context.Context, message string, history []conversation.Turn) analysis.Analysis {
	result, err := a.classify(ctx, message, history)
	if err != nil {
		var ce *ClassificationError
		reason := ReasonOracle
		if errors.As(err, &ce) {
			reason = ce.Reason
		}
		a.logger.Warn("classification failed, using fallback",
			"reason", string(reason),
			"error", err,
		)
		return analysis.Fallback()
	}
	return result
}

type oracleResult struct {
	raw string
	err error
}

func (a *Adapter) classify(ctx context.Context, message string, history []conversation.Turn) (analysis.Analysis, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	if len(history) > a.window {
		history = history[len(history)-a.window:]
	}
	input := renderInput(message, history)

	// The oracle runs in its own goroutine so a client that ignores ctx
	// still cannot hold the pipeline past the deadline.
	done := make(chan oracleResult, 1)
	go func() {
		raw, err := a.oracle.Classify(ctx, a.instructions, input)
		done <- oracleResult{raw: raw, err: err}
	}()

	var res oracleResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return analysis.Analysis{}, &ClassificationError{Reason: ReasonTimeout, Err: ctx.Err()}
	}

	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return analysis.Analysis{}, &ClassificationError{Reason: ReasonTimeout, Err: res.err}
		}
		return analysis.Analysis{}, &ClassificationError{Reason: ReasonOracle, Err: res.err}
	}

	out, err := Parse(res.raw)
	if err != nil {
		return analysis.Analysis{}, err
	}

	a.logger.Debug("message classified",
		"quality", string(out.Quality),
		"intent", out.Intent,
		"confidence", out.Confidence,
		"support", out.IsSupportRequest,
	)
	return out, nil
}
