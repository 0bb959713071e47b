package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcal-cloud/calendar"
	apperrors "chatcal-cloud/common/errors"
	"chatcal-cloud/line"
)

type fakeGateway struct {
	mu      sync.Mutex
	calls   int
	created *calendar.CreatedEvent
	err     error
}

func (g *fakeGateway) CreateEvent(ctx context.Context, draft *calendar.Draft) (*calendar.CreatedEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	if g.created != nil {
		return g.created, nil
	}
	return &calendar.CreatedEvent{EventID: "evt-1", Title: draft.Title, Link: "https://calendar.example/evt-1"}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeReplier struct {
	mu      sync.Mutex
	replies []string
	err     error
}

func (r *fakeReplier) ReplyMessage(ctx context.Context, replyToken, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, text)
	return r.err
}

func (r *fakeReplier) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.replies...)
}

func textEvent(text string) line.Event {
	return line.Event{
		Type:       line.EventTypeMessage,
		ReplyToken: "reply-1",
		Source:     line.Source{Type: line.SourceTypeGroup, GroupID: "group-1"},
		Message:    &line.Message{Type: "text", Text: text},
	}
}

const calendarText = "entry-type: event\n" +
	"title: Planning session\n" +
	"start: 2026-03-14T10:00:00\n" +
	"end: 2026-03-14T11:00:00\n"

func TestCalendarMessageHandler_CreatesEvent(t *testing.T) {
	gateway := &fakeGateway{}
	replier := &fakeReplier{}
	handler := NewCalendarMessageHandler(gateway, replier, time.UTC)

	result := handler.Handle(context.Background(), textEvent(calendarText))

	assert.Equal(t, OutcomeEventCreated, result.Outcome)
	assert.NoError(t, result.Err)
	assert.Equal(t, 1, gateway.callCount())

	replies := replier.sent()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Planning session")
	assert.Contains(t, replies[0], "https://calendar.example/evt-1")
}

func TestCalendarMessageHandler_IgnoresOrdinaryChat(t *testing.T) {
	gateway := &fakeGateway{}
	replier := &fakeReplier{}
	handler := NewCalendarMessageHandler(gateway, replier, time.UTC)

	result := handler.Handle(context.Background(), textEvent("see you tomorrow at 10"))

	assert.Equal(t, OutcomeIgnored, result.Outcome)
	assert.Equal(t, 0, gateway.callCount())
	assert.Empty(t, replier.sent())
}

func TestCalendarMessageHandler_IgnoresNonTextMessages(t *testing.T) {
	gateway := &fakeGateway{}
	handler := NewCalendarMessageHandler(gateway, &fakeReplier{}, time.UTC)

	event := textEvent("")
	event.Message = &line.Message{Type: "sticker"}
	result := handler.Handle(context.Background(), event)

	assert.Equal(t, OutcomeIgnored, result.Outcome)
	assert.Equal(t, 0, gateway.callCount())
}

func TestCalendarMessageHandler_RepliesOnInvalidDraft(t *testing.T) {
	gateway := &fakeGateway{}
	replier := &fakeReplier{}
	handler := NewCalendarMessageHandler(gateway, replier, time.UTC)

	badText := "entry-type: event\ntitle: X\nstart: not-a-date\nend: 2026-03-14T11:00:00\n"
	result := handler.Handle(context.Background(), textEvent(badText))

	assert.Equal(t, OutcomeInvalidDraft, result.Outcome)
	assert.Error(t, result.Err)
	assert.Equal(t, 0, gateway.callCount())

	replies := replier.sent()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "couldn't read that event")
}

func TestCalendarMessageHandler_AuthFailureMessage(t *testing.T) {
	gateway := &fakeGateway{err: apperrors.ReauthorizationRequiredError("refresh token revoked", nil)}
	replier := &fakeReplier{}
	handler := NewCalendarMessageHandler(gateway, replier, time.UTC)

	result := handler.Handle(context.Background(), textEvent(calendarText))

	assert.Equal(t, OutcomeAuthRequired, result.Outcome)
	replies := replier.sent()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "authorized again")
}

func TestCalendarMessageHandler_TransientFailureMessage(t *testing.T) {
	gateway := &fakeGateway{err: apperrors.TransientProviderError("calendar provider unavailable", nil)}
	replier := &fakeReplier{}
	handler := NewCalendarMessageHandler(gateway, replier, time.UTC)

	result := handler.Handle(context.Background(), textEvent(calendarText))

	assert.Equal(t, OutcomeTransient, result.Outcome)
	replies := replier.sent()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "try again")
}

func TestCalendarMessageHandler_ReplyFailureKeepsOutcome(t *testing.T) {
	gateway := &fakeGateway{}
	replier := &fakeReplier{err: assert.AnError}
	handler := NewCalendarMessageHandler(gateway, replier, time.UTC)

	result := handler.Handle(context.Background(), textEvent(calendarText))

	assert.Equal(t, OutcomeEventCreated, result.Outcome)
	assert.NoError(t, result.Err)
}

func TestMembershipHandler(t *testing.T) {
	replier := &fakeReplier{}
	handler := NewMembershipHandler(replier)

	join := line.Event{Type: line.EventTypeJoin, ReplyToken: "reply-1", Source: line.Source{Type: line.SourceTypeGroup, GroupID: "group-1"}}
	result := handler.Handle(context.Background(), join)
	assert.Equal(t, OutcomeWelcomeSent, result.Outcome)

	replies := replier.sent()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "entry-type: event")

	leave := line.Event{Type: line.EventTypeLeave, Source: line.Source{Type: line.SourceTypeGroup, GroupID: "group-1"}}
	result = handler.Handle(context.Background(), leave)
	assert.Equal(t, OutcomeMembership, result.Outcome)
	assert.Len(t, replier.sent(), 1)
}
