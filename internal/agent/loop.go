// Package agent implements the core conversation loop: call the model,
// execute the tools it asks for, feed the results back, repeat until
// the model stops asking or the turn budget runs out.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkeller/taskpilot/internal/llm"
	"github.com/mkeller/taskpilot/internal/tools"
)

// Exhaustion reason constants.
const (
	ExhaustMaxTurns  = "max_turns"
	ExhaustWallClock = "wall_clock"
)

const defaultMaxTurns = 20

// defaultSystemPrompt is used when the operator does not supply one.
const defaultSystemPrompt = "You are taskpilot, an autonomous agent that completes tasks " +
	"using the tools available to you. Work step by step, verify your changes, " +
	"and reply with a concise summary when the task is complete."

// Config holds conversation loop settings.
type Config struct {
	// Model is the model identifier passed to the provider.
	Model string
	// SystemPrompt overrides the default system prompt when non-empty.
	SystemPrompt string
	// MaxTurns bounds the number of model calls per run (default 20).
	MaxTurns int
	// MaxDuration is the wall-clock budget for the run (0 = unlimited).
	MaxDuration time.Duration
}

// Result is the outcome of a completed or truncated run.
type Result struct {
	RunID   string
	Content string
	Turns   int

	// Truncated means a budget ended the run while the model was still
	// working; ExhaustReason says which one. A false value means the
	// model signalled natural completion.
	Truncated     bool
	ExhaustReason string

	InputTokens  int
	OutputTokens int

	Messages  []llm.Message
	StartedAt time.Time
	Duration  time.Duration
}

// Loop drives an agent run. The tool registry it holds is the merged
// built-in + remote namespace, fixed for the run's duration.
type Loop struct {
	logger      *slog.Logger
	llm         llm.Client
	registry    *tools.Registry
	model       string
	system      string
	maxTurns    int
	maxDuration time.Duration
}

// New creates a conversation loop.
func New(logger *slog.Logger, client llm.Client, registry *tools.Registry, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	system := cfg.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	return &Loop{
		logger:      logger,
		llm:         client,
		registry:    registry,
		model:       cfg.Model,
		system:      system,
		maxTurns:    maxTurns,
		maxDuration: cfg.MaxDuration,
	}
}

// Run executes one agent run seeded with the operator's instruction.
// Per-tool failures are absorbed into is_error tool results; only a
// model-service failure (or cancellation) returns an error.
func (l *Loop) Run(ctx context.Context, instruction string) (*Result, error) {
	if instruction == "" {
		return nil, fmt.Errorf("instruction is required")
	}

	// Unique run id for log correlation.
	runID, _ := uuid.NewV7()
	rid := runID.String()

	specs := l.toolSpecs()
	messages := []llm.Message{llm.UserMessage(llm.TextBlock(instruction))}

	l.logger.Info("run started",
		"run_id", rid,
		"model", l.model,
		"max_turns", l.maxTurns,
		"tools", len(specs),
	)

	start := time.Now()
	turns := 0
	var totalInput, totalOutput int

	result := func(content string, truncated bool, reason string) *Result {
		return &Result{
			RunID:         rid,
			Content:       content,
			Turns:         turns,
			Truncated:     truncated,
			ExhaustReason: reason,
			InputTokens:   totalInput,
			OutputTokens:  totalOutput,
			Messages:      messages,
			StartedAt:     start,
			Duration:      time.Since(start),
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run cancelled: %w", err)
		}

		if l.maxDuration > 0 && time.Since(start) > l.maxDuration {
			l.logger.Warn("run wall clock exceeded",
				"run_id", rid,
				"elapsed", time.Since(start).Round(time.Millisecond),
				"max_duration", l.maxDuration,
			)
			return result("", true, ExhaustWallClock), nil
		}

		l.logger.Info("model call",
			"run_id", rid,
			"turn", turns,
			"msgs", len(messages),
		)

		resp, err := l.llm.Chat(ctx, l.model, l.system, messages, specs)
		if err != nil {
			return nil, fmt.Errorf("model call failed (turn %d): %w", turns, err)
		}

		// Exactly one increment per model call, however many tool
		// invocations the turn carries.
		turns++
		totalInput += resp.InputTokens
		totalOutput += resp.OutputTokens

		// Assistant content blocks are appended verbatim.
		messages = append(messages, resp.Message)

		invocations := resp.Message.ToolUses()

		l.logger.Info("model response",
			"run_id", rid,
			"turn", turns,
			"stop_reason", resp.StopReason,
			"tool_uses", len(invocations),
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)

		// The absence of tool invocations is the authoritative
		// completion signal; the stop reason is a hint only.
		if len(invocations) == 0 {
			if resp.StopReason == llm.StopToolUse {
				l.logger.Warn("stop reason says tool_use but no tool_use blocks present",
					"run_id", rid, "turn", turns)
			}
			l.logger.Info("run completed",
				"run_id", rid,
				"turns", turns,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return result(resp.Message.Text(), false, ""), nil
		}
		if resp.StopReason == llm.StopEndTurn {
			l.logger.Warn("stop reason says end_turn but tool_use blocks present; executing them",
				"run_id", rid, "turn", turns)
		}

		if turns >= l.maxTurns {
			l.logger.Warn("max turns reached, pending tool invocations not executed",
				"run_id", rid,
				"max_turns", l.maxTurns,
				"pending", len(invocations),
			)
			return result(resp.Message.Text(), true, ExhaustMaxTurns), nil
		}

		results := l.executeBatch(ctx, rid, turns, invocations)
		messages = append(messages, llm.UserMessage(results...))
	}
}

// executeBatch runs every tool invocation of one turn. Invocations are
// independent, so they run concurrently; results are reassembled in the
// original invocation order before being returned.
func (l *Loop) executeBatch(ctx context.Context, rid string, turn int, invocations []llm.ContentBlock) []llm.ContentBlock {
	results := make([]llm.ContentBlock, len(invocations))

	var wg sync.WaitGroup
	for i, inv := range invocations {
		wg.Add(1)
		go func(i int, inv llm.ContentBlock) {
			defer wg.Done()
			results[i] = l.executeOne(ctx, rid, turn, inv)
		}(i, inv)
	}
	wg.Wait()

	return results
}

// executeOne dispatches a single invocation through the registry and
// converts any failure into an is_error tool result.
func (l *Loop) executeOne(ctx context.Context, rid string, turn int, inv llm.ContentBlock) llm.ContentBlock {
	start := time.Now()

	l.logger.Info("tool exec",
		"run_id", rid,
		"turn", turn,
		"tool", inv.Name,
	)

	text, err := l.registry.Execute(ctx, inv.Name, inv.Input)
	if err != nil {
		l.logger.Error("tool exec failed",
			"run_id", rid,
			"turn", turn,
			"tool", inv.Name,
			"error", err,
		)
		return llm.ToolResultBlock(inv.ID, "Error: "+err.Error(), true)
	}

	l.logger.Debug("tool exec done",
		"run_id", rid,
		"turn", turn,
		"tool", inv.Name,
		"result_len", len(text),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return llm.ToolResultBlock(inv.ID, text, false)
}

// toolSpecs snapshots the registry as model-facing tool definitions.
func (l *Loop) toolSpecs() []llm.ToolSpec {
	list := l.registry.List()
	specs := make([]llm.ToolSpec, 0, len(list))
	for _, t := range list {
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return specs
}
