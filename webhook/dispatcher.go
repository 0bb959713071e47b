package webhook

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"chatcal-cloud/line"
	"chatcal-cloud/streams"
)

// Outcome labels for processed events. These land in the audit trail and in
// batch summaries.
const (
	OutcomeEventCreated = "event_created"
	OutcomeInvalidDraft = "invalid_draft"
	OutcomeAuthRequired = "auth_required"
	OutcomeTransient    = "transient_error"
	OutcomeProvider     = "provider_error"
	OutcomeWelcomeSent  = "welcome_sent"
	OutcomeMembership   = "membership_recorded"
	OutcomeIgnored      = "ignored"
	OutcomePanic        = "panic"
)

// Result is what a handler reports for one event.
type Result struct {
	Outcome string
	Detail  string
	Err     error
}

// Handler processes a single webhook event. Handlers report failures through
// the Result; they must not panic, but the dispatcher recovers if they do.
type Handler interface {
	Handle(ctx context.Context, event line.Event) Result
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event line.Event) Result

func (f HandlerFunc) Handle(ctx context.Context, event line.Event) Result {
	return f(ctx, event)
}

// EventRecorder appends processed-event entries to the audit trail.
// *streams.EventLog satisfies it.
type EventRecorder interface {
	Append(ctx context.Context, entry streams.Entry) (string, error)
}

// EventResult is the per-event record in a batch summary.
type EventResult struct {
	CorrelationID string `json:"correlation_id"`
	EventType     string `json:"event_type"`
	Outcome       string `json:"outcome"`
	Error         string `json:"error,omitempty"`
}

// Summary describes how a whole webhook batch was processed.
type Summary struct {
	Received  int           `json:"received"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Ignored   int           `json:"ignored"`
	Results   []EventResult `json:"results"`
}

// Dispatcher routes webhook events to registered handlers. Events in a batch
// are processed concurrently and in isolation: one event's failure (or panic)
// never prevents the others from running, and Dispatch never returns an
// error. The caller acknowledges the batch regardless of the summary.
type Dispatcher struct {
	handlers map[line.EventType]Handler
	audit    EventRecorder
}

// NewDispatcher creates a dispatcher. audit may be nil, in which case no
// audit entries are written.
func NewDispatcher(audit EventRecorder) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[line.EventType]Handler),
		audit:    audit,
	}
}

// Register installs the handler for an event type, replacing any previous one.
func (d *Dispatcher) Register(eventType line.EventType, handler Handler) {
	d.handlers[eventType] = handler
}

// Dispatch processes a batch of events and returns the batch summary. It
// never fails: per-event errors are captured in the summary and audit trail.
func (d *Dispatcher) Dispatch(ctx context.Context, events []line.Event) Summary {
	results := make([]EventResult, len(events))

	var wg sync.WaitGroup
	for i, event := range events {
		wg.Add(1)
		go func(i int, event line.Event) {
			defer wg.Done()
			results[i] = d.processOne(ctx, event)
		}(i, event)
	}
	wg.Wait()

	summary := Summary{Received: len(events), Results: results}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeIgnored, OutcomeMembership:
			summary.Ignored++
		case OutcomeEventCreated, OutcomeWelcomeSent:
			summary.Succeeded++
		default:
			summary.Failed++
		}
	}
	return summary
}

func (d *Dispatcher) processOne(ctx context.Context, event line.Event) EventResult {
	correlationID := uuid.NewString()

	result := d.runHandler(ctx, correlationID, event)

	eventResult := EventResult{
		CorrelationID: correlationID,
		EventType:     string(event.Type),
		Outcome:       result.Outcome,
	}
	if result.Err != nil {
		eventResult.Error = result.Err.Error()
		log.Printf("webhook: event %s (%s) failed: outcome=%s err=%v",
			correlationID, event.Type, result.Outcome, result.Err)
	}

	d.record(ctx, correlationID, event, result)
	return eventResult
}

// runHandler invokes the registered handler for the event, converting a
// panic into a failed result so the rest of the batch keeps going.
func (d *Dispatcher) runHandler(ctx context.Context, correlationID string, event line.Event) (result Result) {
	handler, ok := d.handlers[event.Type]
	if !ok {
		return Result{Outcome: OutcomeIgnored, Detail: "no handler for event type"}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("webhook: event %s (%s) handler panicked: %v", correlationID, event.Type, r)
			result = Result{Outcome: OutcomePanic, Err: fmt.Errorf("handler panicked: %v", r)}
		}
	}()

	return handler.Handle(ctx, event)
}

func (d *Dispatcher) record(ctx context.Context, correlationID string, event line.Event, result Result) {
	if d.audit == nil {
		return
	}

	detail := result.Detail
	if detail == "" && result.Err != nil {
		detail = result.Err.Error()
	}

	if _, err := d.audit.Append(ctx, streams.Entry{
		CorrelationID:  correlationID,
		EventType:      string(event.Type),
		ConversationID: event.Source.ConversationID(),
		Outcome:        result.Outcome,
		Detail:         detail,
	}); err != nil {
		// Audit failures never affect event processing or acknowledgment.
		log.Printf("webhook: failed to record event %s in audit trail: %v", correlationID, err)
	}
}
