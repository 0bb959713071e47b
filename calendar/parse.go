package calendar

import (
	"strconv"
	"strings"
	"time"

	apperrors "chatcal-cloud/common/errors"
)

// SentinelMarker is the literal line a chat message must contain to be
// treated as a calendar-event submission at all. Ordinary conversation never
// contains it, so everything else passes through the relay untouched.
const SentinelMarker = "entry-type: event"

// Labels recognized in "key: value" lines. Unknown keys are ignored.
const (
	labelTitle       = "title"
	labelStart       = "start"
	labelEnd         = "end"
	labelDescription = "description"
	labelLocation    = "location"
	labelAttendees   = "attendees"
	labelReminder    = "reminder"
	labelRecurrence  = "recurrence"
)

// Layouts accepted for start/end values: local date-times without a zone
// suffix; the zone comes from the relay's configured location.
var dateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseDraft translates a structured chat message into an event draft.
//
// Returns (nil, nil) when the text is not a well-formed calendar message:
// missing sentinel, or missing any of title/start/end. That is the normal,
// frequent case in free chat, not an error. Text that passes those checks
// but carries an unparseable date-time fails with an invalid-draft error so
// the sender can be told what is wrong.
func ParseDraft(text string, loc *time.Location) (*Draft, error) {
	if !strings.Contains(text, SentinelMarker) {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}

	fields := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		fields[key] = value
	}

	if fields[labelTitle] == "" || fields[labelStart] == "" || fields[labelEnd] == "" {
		return nil, nil
	}

	start, err := parseLocalDateTime(fields[labelStart], loc)
	if err != nil {
		return nil, apperrors.InvalidDraftError("invalid start date-time: " + fields[labelStart])
	}
	end, err := parseLocalDateTime(fields[labelEnd], loc)
	if err != nil {
		return nil, apperrors.InvalidDraftError("invalid end date-time: " + fields[labelEnd])
	}

	draft := &Draft{
		Title:       fields[labelTitle],
		Start:       start,
		End:         end,
		Description: fields[labelDescription],
		Location:    fields[labelLocation],
		Attendees:   parseAttendees(fields[labelAttendees]),
		Recurrence:  wrapRecurrence(fields[labelRecurrence]),
	}

	if raw := fields[labelReminder]; raw != "" {
		// Non-numeric reminders are dropped, not fatal.
		if minutes, err := strconv.Atoi(raw); err == nil {
			draft.ReminderMinutes = &minutes
		}
	}

	if err := draft.Validate(); err != nil {
		return nil, err
	}

	return draft, nil
}

func parseLocalDateTime(value string, loc *time.Location) (time.Time, error) {
	var lastErr error
	for _, layout := range dateTimeLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// parseAttendees keeps only comma-separated tokens that look like email
// addresses.
func parseAttendees(raw string) []string {
	if raw == "" {
		return nil
	}

	var attendees []string
	for _, token := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(token)
		if strings.Contains(trimmed, "@") {
			attendees = append(attendees, trimmed)
		}
	}
	return attendees
}

// wrapRecurrence upper-cases the raw rule body and wraps it as an RFC-5545
// RRULE fragment.
func wrapRecurrence(raw string) string {
	rule := strings.ToUpper(strings.TrimSpace(raw))
	if rule == "" {
		return ""
	}
	if !strings.HasPrefix(rule, "RRULE:") {
		rule = "RRULE:" + rule
	}
	return rule
}
