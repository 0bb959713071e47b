package calendar

import (
	"context"
	goerrors "errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	apperrors "chatcal-cloud/common/errors"
	"chatcal-cloud/security"
)

// outboundTimeout bounds each remote calendar call so a slow provider never
// stalls a webhook handler indefinitely.
const outboundTimeout = 10 * time.Second

const defaultListLimit = 50

// TokenSource supplies live credentials to the gateway. Satisfied by
// *security.TokenManager.
type TokenSource interface {
	GetValidCredential(ctx context.Context) (*security.Credential, error)
	Refresh(ctx context.Context, cred *security.Credential) (*security.Credential, error)
}

// GatewayOptions configures a calendar gateway.
type GatewayOptions struct {
	// CalendarID defaults to "primary".
	CalendarID string
	// TimeZone is the IANA zone name attached to event times.
	TimeZone string
	// ClientOptions are appended when building the provider service, used by
	// tests to point at a fake endpoint.
	ClientOptions []option.ClientOption
}

// Gateway is the thin operation layer over the remote calendar. A service
// client is built per operation from a fresh credential; no client instance
// is shared across requests, so a stale credential can never leak between
// calls. On an authorization failure the gateway forces one credential
// refresh and retries the remote call exactly once.
type Gateway struct {
	tokens     TokenSource
	calendarID string
	timeZone   string
	location   *time.Location
	opts       []option.ClientOption
}

// CreatedEvent is the result of a successful event creation.
type CreatedEvent struct {
	EventID string `json:"eventId"`
	Link    string `json:"link"`
	Title   string `json:"title"`
}

// EventSummary is a formatted listing entry.
type EventSummary struct {
	Title    string `json:"title"`
	Time     string `json:"time"`
	Location string `json:"location,omitempty"`
	Link     string `json:"link,omitempty"`
	Start    string `json:"start"`
	End      string `json:"end"`
	AllDay   bool   `json:"allDay"`
}

// NewGateway creates a calendar gateway.
func NewGateway(tokens TokenSource, opts GatewayOptions) (*Gateway, error) {
	if opts.CalendarID == "" {
		opts.CalendarID = "primary"
	}
	if opts.TimeZone == "" {
		opts.TimeZone = "UTC"
	}

	location, err := time.LoadLocation(opts.TimeZone)
	if err != nil {
		return nil, apperrors.ConfigurationError(fmt.Sprintf("unknown time zone %q", opts.TimeZone), err)
	}

	return &Gateway{
		tokens:     tokens,
		calendarID: opts.CalendarID,
		timeZone:   opts.TimeZone,
		location:   location,
		opts:       opts.ClientOptions,
	}, nil
}

// Location returns the gateway's configured time zone location, shared with
// the text parser so drafts and events agree on local time.
func (g *Gateway) Location() *time.Location {
	return g.location
}

// service builds a provider client bearing exactly the given credential.
// A static token source is used deliberately: refresh decisions belong to
// the token manager, not the HTTP transport.
func (g *Gateway) service(ctx context.Context, cred *security.Credential) (*calendar.Service, error) {
	token := &oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   "Bearer",
		Expiry:      cred.ExpiryDate,
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	httpClient.Timeout = outboundTimeout

	opts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, g.opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, apperrors.InternalError("failed to build calendar client", err)
	}
	return svc, nil
}

// withAuthRetry runs op with a valid credential. If the remote call fails
// with 401/403 it forces a refresh and retries once; a second authorization
// failure surfaces as not-authorized with no further retry, which keeps a
// broken credential from looping. Everything else is surfaced unretried —
// the provider does not guarantee idempotent mutations, so blind retries
// would risk duplicate events.
func (g *Gateway) withAuthRetry(ctx context.Context, op func(*calendar.Service) error) error {
	cred, err := g.tokens.GetValidCredential(ctx)
	if err != nil {
		return err
	}

	svc, err := g.service(ctx, cred)
	if err != nil {
		return err
	}

	err = op(svc)
	if err == nil {
		return nil
	}
	if !isAuthError(err) {
		return classifyProviderError(err)
	}

	log.Printf("Calendar call unauthorized, forcing credential refresh and retrying once")
	refreshed, err := g.tokens.Refresh(ctx, cred)
	if err != nil {
		return err
	}

	svc, err = g.service(ctx, refreshed)
	if err != nil {
		return err
	}

	err = op(svc)
	if err == nil {
		return nil
	}
	if isAuthError(err) {
		return apperrors.NotAuthorizedError("calendar request still unauthorized after credential refresh")
	}
	return classifyProviderError(err)
}

// CreateEvent submits a validated draft to the provider.
func (g *Gateway) CreateEvent(ctx context.Context, draft *Draft) (*CreatedEvent, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	var created *calendar.Event
	err := g.withAuthRetry(ctx, func(svc *calendar.Service) error {
		result, err := svc.Events.Insert(g.calendarID, draft.toProviderEvent(g.timeZone)).
			SendUpdates("none").
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		created = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Created calendar event %s (%q)", created.Id, created.Summary)
	return &CreatedEvent{
		EventID: created.Id,
		Link:    created.HtmlLink,
		Title:   created.Summary,
	}, nil
}

// ListEvents returns the events between rangeStart and rangeEnd, expanded to
// single occurrences and ordered by start time.
func (g *Gateway) ListEvents(ctx context.Context, rangeStart, rangeEnd time.Time) ([]EventSummary, error) {
	var items []*calendar.Event
	err := g.withAuthRetry(ctx, func(svc *calendar.Service) error {
		result, err := svc.Events.List(g.calendarID).
			TimeMin(rangeStart.Format(time.RFC3339)).
			TimeMax(rangeEnd.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(defaultListLimit).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		items = result.Items
		return nil
	})
	if err != nil {
		return nil, err
	}

	summaries := make([]EventSummary, 0, len(items))
	for _, item := range items {
		summaries = append(summaries, summarize(item))
	}
	return summaries, nil
}

// EventsOn returns the schedule for one calendar day in the gateway's zone.
func (g *Gateway) EventsOn(ctx context.Context, day time.Time) ([]EventSummary, error) {
	year, month, dayOfMonth := day.In(g.location).Date()
	startOfDay := time.Date(year, month, dayOfMonth, 0, 0, 0, 0, g.location)
	endOfDay := startOfDay.Add(24*time.Hour - time.Second)
	return g.ListEvents(ctx, startOfDay, endOfDay)
}

// UpdateEvent replaces an existing event with the draft's content.
func (g *Gateway) UpdateEvent(ctx context.Context, eventID string, draft *Draft) error {
	if eventID == "" {
		return apperrors.InvalidDraftError("event id is required")
	}
	if err := draft.Validate(); err != nil {
		return err
	}

	return g.withAuthRetry(ctx, func(svc *calendar.Service) error {
		_, err := svc.Events.Update(g.calendarID, eventID, draft.toProviderEvent(g.timeZone)).
			Context(ctx).
			Do()
		return err
	})
}

// DeleteEvent removes an event.
func (g *Gateway) DeleteEvent(ctx context.Context, eventID string) error {
	if eventID == "" {
		return apperrors.InvalidDraftError("event id is required")
	}

	return g.withAuthRetry(ctx, func(svc *calendar.Service) error {
		return svc.Events.Delete(g.calendarID, eventID).Context(ctx).Do()
	})
}

func summarize(event *calendar.Event) EventSummary {
	summary := EventSummary{
		Title:    event.Summary,
		Location: event.Location,
		Link:     event.HtmlLink,
	}
	if summary.Title == "" {
		summary.Title = "(untitled)"
	}

	if event.Start != nil && event.Start.DateTime != "" {
		summary.Start = event.Start.DateTime
		if event.End != nil {
			summary.End = event.End.DateTime
		}
		summary.Time = clockRange(event.Start.DateTime, summary.End)
	} else {
		summary.AllDay = true
		summary.Time = "all day"
		if event.Start != nil {
			summary.Start = event.Start.Date
		}
		if event.End != nil {
			summary.End = event.End.Date
		}
	}

	return summary
}

func clockRange(start, end string) string {
	startTime, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return ""
	}
	endTime, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return startTime.Format("15:04")
	}
	return startTime.Format("15:04") + " - " + endTime.Format("15:04")
}

func isAuthError(err error) bool {
	var apiErr *googleapi.Error
	if goerrors.As(err, &apiErr) {
		return apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden
	}
	return false
}

// classifyProviderError maps remote calendar failures into the taxonomy:
// 5xx and transport failures are retryable later, everything else is a
// non-retryable provider rejection.
func classifyProviderError(err error) error {
	var apiErr *googleapi.Error
	if goerrors.As(err, &apiErr) {
		if apiErr.Code >= 500 {
			return apperrors.TransientProviderError("calendar provider returned a server error", err)
		}
		return apperrors.ProviderError("calendar provider rejected the request", err).
			WithCode(strconv.Itoa(apiErr.Code))
	}
	return apperrors.TransientProviderError("calendar provider unreachable", err)
}
