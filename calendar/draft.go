package calendar

import (
	"time"

	calendar "google.golang.org/api/calendar/v3"

	apperrors "chatcal-cloud/common/errors"
)

// Draft is the validated, structured form of a calendar event extracted from
// chat text, not yet submitted to the provider.
type Draft struct {
	Title       string
	Start       time.Time
	End         time.Time
	Description string
	Location    string
	Attendees   []string
	// ReminderMinutes is nil when the message carried no usable reminder.
	ReminderMinutes *int
	// Recurrence is a full "RRULE:..." fragment, empty when absent. The rule
	// grammar is not validated here; the provider rejects malformed rules.
	Recurrence string
}

const eventTimeLayout = "2006-01-02T15:04:05"

// Validate enforces the draft invariant: title, start, and end present, with
// start strictly before end. An invalid draft never reaches the provider.
func (d *Draft) Validate() error {
	if d == nil {
		return apperrors.InvalidDraftError("draft is empty")
	}
	if d.Title == "" {
		return apperrors.InvalidDraftError("draft is missing a title")
	}
	if d.Start.IsZero() || d.End.IsZero() {
		return apperrors.InvalidDraftError("draft is missing start or end time")
	}
	if !d.Start.Before(d.End) {
		return apperrors.InvalidDraftError("draft start time must be before end time")
	}
	return nil
}

// toProviderEvent builds the provider's event payload. Reminders override the
// calendar defaults with an email and a popup notification, matching how the
// relay has always surfaced them.
func (d *Draft) toProviderEvent(timeZone string) *calendar.Event {
	event := &calendar.Event{
		Summary:     d.Title,
		Description: d.Description,
		Location:    d.Location,
		Start: &calendar.EventDateTime{
			DateTime: d.Start.Format(eventTimeLayout),
			TimeZone: timeZone,
		},
		End: &calendar.EventDateTime{
			DateTime: d.End.Format(eventTimeLayout),
			TimeZone: timeZone,
		},
	}

	if len(d.Attendees) > 0 {
		attendees := make([]*calendar.EventAttendee, 0, len(d.Attendees))
		for _, email := range d.Attendees {
			attendees = append(attendees, &calendar.EventAttendee{Email: email})
		}
		event.Attendees = attendees
	}

	if d.ReminderMinutes != nil {
		minutes := int64(*d.ReminderMinutes)
		event.Reminders = &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{
				{Method: "email", Minutes: minutes},
				{Method: "popup", Minutes: minutes},
			},
			ForceSendFields: []string{"UseDefault"},
		}
	}

	if d.Recurrence != "" {
		event.Recurrence = []string{d.Recurrence}
	}

	return event
}
