package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alertforge/alertforge/internal/port/agentruntime"
)

// runDriver executes one conversation turn end to end: submit the prompt,
// drain the streaming run, then read the transcript tail for the assistant's
// answer. It is stateless across turns; the conversation handle carries all
// accumulated context on the runtime side.
type runDriver struct {
	runtime agentruntime.Runtime
	log     *slog.Logger
}

// run drives a single turn and returns the assistant's final message text.
// A run whose transcript ends without an assistant message is treated as a
// failure, the same as a runtime error during the drain.
func (d *runDriver) run(ctx context.Context, conversationID, prompt string, sink agentruntime.StepSink) (string, error) {
	if err := d.runtime.Submit(ctx, conversationID, prompt); err != nil {
		return "", fmt.Errorf("submitting prompt: %w", err)
	}

	if err := d.runtime.DrainStreaming(ctx, conversationID, sink); err != nil {
		return "", fmt.Errorf("draining run: %w", err)
	}

	msgs, err := d.runtime.ListMessages(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("reading transcript: %w", err)
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == agentruntime.RoleAssistant && msgs[i].Text != "" {
			return msgs[i].Text, nil
		}
	}

	d.log.Warn("run completed without an assistant message",
		slog.String("conversation_id", conversationID),
		slog.Int("transcript_len", len(msgs)))
	return "", fmt.Errorf("run produced no assistant message")
}

// transcript returns the ordered conversation messages, used to rebuild
// context for a retry prompt.
func (d *runDriver) transcript(ctx context.Context, conversationID string) ([]agentruntime.Message, error) {
	msgs, err := d.runtime.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	return msgs, nil
}
