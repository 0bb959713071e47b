package webhook

import (
	"context"
	"log"
	"time"

	"chatcal-cloud/calendar"
	apperrors "chatcal-cloud/common/errors"
	"chatcal-cloud/line"
)

// EventCreator is the slice of the calendar gateway the message handler
// needs. *calendar.Gateway satisfies it.
type EventCreator interface {
	CreateEvent(ctx context.Context, draft *calendar.Draft) (*calendar.CreatedEvent, error)
}

// Replier answers inbound events through their reply token. *line.Client
// satisfies it.
type Replier interface {
	ReplyMessage(ctx context.Context, replyToken, text string) error
}

// CalendarMessageHandler turns calendar-formatted text messages into
// calendar events and replies with the result. Ordinary chat messages are
// ignored silently.
type CalendarMessageHandler struct {
	gateway  EventCreator
	replier  Replier
	location *time.Location
}

func NewCalendarMessageHandler(gateway EventCreator, replier Replier, location *time.Location) *CalendarMessageHandler {
	if location == nil {
		location = time.UTC
	}
	return &CalendarMessageHandler{gateway: gateway, replier: replier, location: location}
}

func (h *CalendarMessageHandler) Handle(ctx context.Context, event line.Event) Result {
	if event.Message == nil || event.Message.Type != "text" {
		return Result{Outcome: OutcomeIgnored, Detail: "non-text message"}
	}

	draft, err := calendar.ParseDraft(event.Message.Text, h.location)
	if err != nil {
		h.reply(ctx, event.ReplyToken, failureMessage(err))
		return Result{Outcome: OutcomeInvalidDraft, Err: err}
	}
	if draft == nil {
		// Ordinary chat, nothing to do.
		return Result{Outcome: OutcomeIgnored, Detail: "not a calendar message"}
	}

	created, err := h.gateway.CreateEvent(ctx, draft)
	if err != nil {
		h.reply(ctx, event.ReplyToken, failureMessage(err))
		return Result{Outcome: outcomeForError(err), Err: err}
	}

	h.reply(ctx, event.ReplyToken, successMessage(created))
	return Result{Outcome: OutcomeEventCreated, Detail: created.Title}
}

// reply is best-effort: a failed reply is logged but never changes the
// processing outcome.
func (h *CalendarMessageHandler) reply(ctx context.Context, replyToken, text string) {
	if h.replier == nil || replyToken == "" {
		return
	}
	if err := h.replier.ReplyMessage(ctx, replyToken, text); err != nil {
		log.Printf("webhook: reply failed: %v", err)
	}
}

// MembershipHandler greets conversations the bot joins and records the ones
// it leaves. Register it for join, follow, leave and unfollow events.
type MembershipHandler struct {
	replier Replier
}

func NewMembershipHandler(replier Replier) *MembershipHandler {
	return &MembershipHandler{replier: replier}
}

func (h *MembershipHandler) Handle(ctx context.Context, event line.Event) Result {
	switch event.Type {
	case line.EventTypeJoin, line.EventTypeFollow:
		if h.replier != nil && event.ReplyToken != "" {
			if err := h.replier.ReplyMessage(ctx, event.ReplyToken, welcomeMessage); err != nil {
				log.Printf("webhook: welcome reply failed: %v", err)
			}
		}
		return Result{Outcome: OutcomeWelcomeSent}
	case line.EventTypeLeave, line.EventTypeUnfollow:
		return Result{Outcome: OutcomeMembership, Detail: string(event.Type)}
	default:
		return Result{Outcome: OutcomeIgnored}
	}
}

func outcomeForError(err error) string {
	switch apperrors.GetType(err) {
	case apperrors.ErrTypeInvalidDraft:
		return OutcomeInvalidDraft
	case apperrors.ErrTypeNotAuthorized, apperrors.ErrTypeReauthorizationRequired, apperrors.ErrTypeAuthentication:
		return OutcomeAuthRequired
	case apperrors.ErrTypeTransientProvider:
		return OutcomeTransient
	default:
		return OutcomeProvider
	}
}
