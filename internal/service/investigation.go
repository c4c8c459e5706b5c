package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	afotel "github.com/alertforge/alertforge/internal/adapter/otel"
	"github.com/alertforge/alertforge/internal/adapter/ws"
	"github.com/alertforge/alertforge/internal/domain/investigation"
	"github.com/alertforge/alertforge/internal/domain/stream"
	"github.com/alertforge/alertforge/internal/port/agentruntime"
	"github.com/alertforge/alertforge/internal/port/broadcast"
	"github.com/alertforge/alertforge/internal/port/history"
	"github.com/alertforge/alertforge/internal/port/messagequeue"
	"github.com/alertforge/alertforge/internal/resilience"
)

// DefaultMaxAttempts bounds how many whole-conversation attempts one
// investigation may consume. Unbounded retry against a systematically broken
// remote agent is a resource leak, not resilience.
const DefaultMaxAttempts = 3

// DefaultStreamTimeout bounds how long the stream consumer waits for the next
// event before declaring the run stalled.
const DefaultStreamTimeout = 120 * time.Second

// InvestigationConfig tunes the orchestration core.
type InvestigationConfig struct {
	MaxAttempts    int
	StreamTimeout  time.Duration
	BridgeCapacity int
}

func (c *InvestigationConfig) normalize() {
	if c.MaxAttempts < 1 || c.MaxAttempts > 5 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = DefaultStreamTimeout
	}
	if c.BridgeCapacity <= 0 {
		c.BridgeCapacity = DefaultBridgeCapacity
	}
}

// InvestigationService drives alert investigations: it opens a conversation
// against the remote agent runtime, runs attempts until one succeeds or the
// attempt budget is spent, and streams progress events to the caller.
type InvestigationService struct {
	runtime   agentruntime.Runtime
	store     history.Store
	queue     messagequeue.Queue
	hub       broadcast.Broadcaster
	breaker   *resilience.Breaker
	metrics   *afotel.Metrics
	functions []agentruntime.LocalFunction
	log       *slog.Logger
	cfg       InvestigationConfig

	active sync.Map // investigation ID -> *activeRun
}

// activeRun guards one in-flight investigation record. The worker goroutine
// writes status, attempt and result fields while API handlers poll the same
// record, so every access goes through the lock and readers only ever see
// snapshot copies.
type activeRun struct {
	mu  sync.Mutex
	inv *investigation.Investigation
}

func (r *activeRun) update(fn func(*investigation.Investigation)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.inv)
}

func (r *activeRun) snapshot() investigation.Investigation {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv := *r.inv
	if r.inv.Steps != nil {
		inv.Steps = append([]investigation.StepRecord(nil), r.inv.Steps...)
	}
	return inv
}

// NewInvestigationService wires the orchestration core. queue, hub, metrics
// and breaker may be nil; the corresponding side channels are then skipped.
func NewInvestigationService(
	runtime agentruntime.Runtime,
	store history.Store,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	breaker *resilience.Breaker,
	metrics *afotel.Metrics,
	functions []agentruntime.LocalFunction,
	cfg InvestigationConfig,
	log *slog.Logger,
) *InvestigationService {
	cfg.normalize()
	return &InvestigationService{
		runtime:   runtime,
		store:     store,
		queue:     queue,
		hub:       hub,
		breaker:   breaker,
		metrics:   metrics,
		functions: functions,
		log:       log,
		cfg:       cfg,
	}
}

// Investigate starts an investigation and returns its event stream. The
// returned channel is closed after the terminal event. Cancelling ctx tears
// the stream down and cancels the background worker; the worker never
// outlives an abandoned stream by more than its current blocking call.
func (s *InvestigationService) Investigate(ctx context.Context, req investigation.StartRequest) (<-chan stream.Event, investigation.Investigation, error) {
	if err := req.Validate(); err != nil {
		return nil, investigation.Investigation{}, fmt.Errorf("invalid investigation request: %w", err)
	}

	captures := NewCaptureRegistry()
	fns := captures.WrapAll(s.functions)

	conversationID := req.ConversationID
	ownsConversation := conversationID == ""
	if ownsConversation {
		var err error
		openErr := s.execute(func() error {
			conversationID, err = s.runtime.OpenConversation(ctx, fns)
			return err
		})
		if openErr != nil {
			return nil, investigation.Investigation{}, fmt.Errorf("opening conversation: %w", openErr)
		}
	}

	run := &activeRun{inv: &investigation.Investigation{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Alert:          req.Alert,
		Status:         investigation.StatusRunning,
		Attempt:        1,
		StartedAt:      time.Now(),
	}}
	id := run.inv.ID
	s.active.Store(id, run)

	bridge := NewEventBridge(s.cfg.BridgeCapacity)
	translator := newStepTranslator(bridge, captures, s.log.With(slog.String("investigation_id", id)))

	// The worker's lifetime is bound to the consumer through cancel, not to
	// the request context: the worker must keep running between consumer
	// reads, and must stop when the consumer goes away.
	workerCtx, cancel := context.WithCancel(context.Background())
	go s.runWorker(workerCtx, run, bridge, translator, ownsConversation)

	out := make(chan stream.Event)
	go s.consume(ctx, out, bridge, cancel, id)

	return out, run.snapshot(), nil
}

// Active returns a snapshot of the in-flight investigation with the given
// ID, if any. The copy is safe to read and marshal while the run progresses.
func (s *InvestigationService) Active(id string) (investigation.Investigation, bool) {
	v, ok := s.active.Load(id)
	if !ok {
		return investigation.Investigation{}, false
	}
	return v.(*activeRun).snapshot(), true
}

// ActiveCount reports how many investigations are currently in flight.
func (s *InvestigationService) ActiveCount() int {
	n := 0
	s.active.Range(func(_, _ any) bool { n++; return true })
	return n
}

// runWorker drives attempts until success, exhaustion, or cancellation. It is
// the single producer on the bridge and the only component that emits a
// terminal event.
func (s *InvestigationService) runWorker(ctx context.Context, run *activeRun, bridge *EventBridge, translator *stepTranslator, ownsConversation bool) {
	// ID, conversation handle and alert text never change after creation.
	id := run.inv.ID
	conversationID := run.inv.ConversationID
	alert := run.inv.Alert

	log := s.log.With(slog.String("investigation_id", id))
	driver := &runDriver{runtime: s.runtime, log: log}

	ctx, span := afotel.StartInvestigationSpan(ctx, id, conversationID)
	defer span.End()

	defer bridge.Close()
	defer s.active.Delete(id)
	defer func() {
		if ownsConversation {
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer releaseCancel()
			if err := s.runtime.Release(releaseCtx, conversationID); err != nil {
				log.Warn("releasing conversation failed", slog.String("error", err.Error()))
			}
		}
	}()

	s.publish(ctx, messagequeue.SubjectInvestigationStarted, messagequeue.InvestigationStartedPayload{
		InvestigationID: id,
		ConversationID:  conversationID,
		Alert:           alert,
	})
	s.broadcastStatus(ctx, run.snapshot())
	if s.metrics != nil {
		s.metrics.InvestigationsStarted.Add(ctx, 1)
	}

	prompt := alert
	var lastErr error

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		run.update(func(inv *investigation.Investigation) { inv.Attempt = attempt })

		if attempt > 1 {
			translator.Reset()
			bridge.Submit(ctx, stream.RetryReset())
			s.publish(ctx, messagequeue.SubjectInvestigationRetried, messagequeue.InvestigationRetriedPayload{
				InvestigationID: id,
				Attempt:         attempt,
				Error:           lastErr.Error(),
			})
			s.broadcastStatus(ctx, run.snapshot())
			if s.metrics != nil {
				s.metrics.Retries.Add(ctx, 1)
			}
			prompt = s.buildRetryPrompt(ctx, driver, conversationID, alert, lastErr)
			log.Info("retrying investigation",
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()))
		}

		attemptCtx, attemptSpan := afotel.StartAttemptSpan(ctx, id, attempt)
		diagnosis, err := driver.run(attemptCtx, conversationID, prompt, translator)
		attemptSpan.End()
		if err == nil {
			s.finalizeSuccess(ctx, run, bridge, translator, diagnosis)
			return
		}
		if ctx.Err() != nil {
			s.finalizeCancelled(run)
			return
		}
		lastErr = err
		log.Warn("investigation attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}

	s.finalizeFailure(ctx, run, bridge, lastErr)
}

// buildRetryPrompt re-narrates the discarded attempt: the remote conversation
// keeps no memory of a failed run, so the next attempt gets the transcript so
// far plus a description of what went wrong.
func (s *InvestigationService) buildRetryPrompt(ctx context.Context, driver *runDriver, conversationID, alert string, cause error) string {
	var b strings.Builder
	b.WriteString("The previous investigation attempt failed with the following error:\n")
	b.WriteString(cause.Error())
	b.WriteString("\n\n")

	if msgs, err := driver.transcript(ctx, conversationID); err == nil && len(msgs) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range msgs {
			b.WriteString("[")
			b.WriteString(m.Role)
			b.WriteString("] ")
			b.WriteString(m.Text)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Restart the investigation of this alert from the beginning, taking the context above into account:\n")
	b.WriteString(alert)
	return b.String()
}

func (s *InvestigationService) finalizeSuccess(ctx context.Context, run *activeRun, bridge *EventBridge, translator *stepTranslator, diagnosis string) {
	now := time.Now()
	run.update(func(inv *investigation.Investigation) {
		inv.Status = investigation.StatusCompleted
		inv.Steps = translator.Records()
		inv.Diagnosis = investigation.StripReasoning(diagnosis)
		inv.CompletedAt = &now
	})
	inv := run.snapshot()
	elapsed := now.Sub(inv.StartedAt).Seconds()

	if s.store != nil {
		interaction := &investigation.Interaction{
			ID:             inv.ID,
			Query:          inv.Alert,
			Steps:          inv.Steps,
			Diagnosis:      inv.Diagnosis,
			ElapsedSeconds: elapsed,
			CreatedAt:      now,
		}
		if err := s.store.SaveInteraction(ctx, interaction); err != nil {
			s.log.Error("persisting interaction failed",
				slog.String("investigation_id", inv.ID),
				slog.String("error", err.Error()))
		}
	}

	s.publish(ctx, messagequeue.SubjectInvestigationCompleted, messagequeue.InvestigationCompletedPayload{
		InvestigationID: inv.ID,
		Attempt:         inv.Attempt,
		StepCount:       len(inv.Steps),
		ElapsedSeconds:  elapsed,
	})
	s.broadcastStatus(ctx, inv)
	if s.metrics != nil {
		s.metrics.InvestigationsCompleted.Add(ctx, 1)
		s.metrics.StepsEmitted.Add(ctx, int64(len(inv.Steps)))
		s.metrics.InvestigationDuration.Record(ctx, elapsed)
	}

	bridge.Submit(ctx, stream.Message(inv.Diagnosis))
}

func (s *InvestigationService) finalizeFailure(ctx context.Context, run *activeRun, bridge *EventBridge, cause error) {
	now := time.Now()
	run.update(func(inv *investigation.Investigation) {
		inv.Status = investigation.StatusFailed
		inv.Error = cause.Error()
		inv.CompletedAt = &now
	})
	inv := run.snapshot()

	s.publish(ctx, messagequeue.SubjectInvestigationFailed, messagequeue.InvestigationFailedPayload{
		InvestigationID: inv.ID,
		Attempts:        inv.Attempt,
		Error:           inv.Error,
	})
	s.broadcastStatus(ctx, inv)
	if s.metrics != nil {
		s.metrics.InvestigationsFailed.Add(ctx, 1)
	}

	bridge.Submit(ctx, stream.Error(cause.Error()))
}

func (s *InvestigationService) finalizeCancelled(run *activeRun) {
	now := time.Now()
	run.update(func(inv *investigation.Investigation) {
		inv.Status = investigation.StatusCancelled
		inv.CompletedAt = &now
	})
	inv := run.snapshot()
	// No terminal event: the consumer is already gone.
	ctx := context.Background()
	s.broadcastStatus(ctx, inv)
	if s.metrics != nil {
		s.metrics.InvestigationsFailed.Add(ctx, 1)
	}
	s.log.Info("investigation cancelled",
		slog.String("investigation_id", inv.ID),
		slog.Int("attempt", inv.Attempt))
}

// consume pulls events off the bridge and forwards them to out until the
// bridge closes, the bound expires, or the request context dies. All teardown
// paths cancel the worker so it never outlives the stream unbounded.
func (s *InvestigationService) consume(ctx context.Context, out chan<- stream.Event, bridge *EventBridge, cancelWorker context.CancelFunc, investigationID string) {
	defer close(out)
	defer cancelWorker()

	for {
		ev, err := bridge.Next(ctx, s.cfg.StreamTimeout)
		switch {
		case err == nil:
		case errors.Is(err, ErrBridgeClosed):
			return
		case errors.Is(err, ErrBridgeTimeout):
			s.log.Error("investigation stream stalled",
				slog.String("investigation_id", investigationID),
				slog.Duration("timeout", s.cfg.StreamTimeout))
			cancelWorker()
			bridge.Abandon()
			select {
			case out <- stream.Error(fmt.Sprintf("investigation stalled: no progress within %s", s.cfg.StreamTimeout)):
			case <-ctx.Done():
			}
			return
		default: // context cancelled
			cancelWorker()
			bridge.Abandon()
			return
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			cancelWorker()
			bridge.Abandon()
			return
		}
	}
}

func (s *InvestigationService) execute(fn func() error) error {
	if s.breaker == nil {
		return fn()
	}
	return s.breaker.Execute(fn)
}

func (s *InvestigationService) publish(ctx context.Context, subject string, payload any) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshaling queue payload", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		s.log.Warn("publishing lifecycle message failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}

func (s *InvestigationService) broadcastStatus(ctx context.Context, inv investigation.Investigation) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(ctx, ws.EventInvestigationStatus, ws.InvestigationStatusEvent{
		InvestigationID: inv.ID,
		Status:          string(inv.Status),
		Attempt:         inv.Attempt,
		Error:           inv.Error,
	})
}
