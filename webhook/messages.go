package webhook

import (
	"errors"
	"fmt"

	"chatcal-cloud/calendar"
	apperrors "chatcal-cloud/common/errors"
)

const welcomeMessage = "Hi! Send me a message starting with \"entry-type: event\" " +
	"followed by title, start and end lines and I'll add it to the calendar."

func successMessage(created *calendar.CreatedEvent) string {
	title := created.Title
	if title == "" {
		title = "(untitled)"
	}
	if created.Link != "" {
		return fmt.Sprintf("Event created: %s\n%s", title, created.Link)
	}
	return fmt.Sprintf("Event created: %s", title)
}

// failureMessage maps an error category to the text sent back to the chat.
// Users see what went wrong and what to do, never raw provider errors.
func failureMessage(err error) string {
	switch apperrors.GetType(err) {
	case apperrors.ErrTypeInvalidDraft:
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Message != "" {
			return fmt.Sprintf("I couldn't read that event: %s", appErr.Message)
		}
		return "I couldn't read that event. Check the title, start and end lines."
	case apperrors.ErrTypeNotAuthorized, apperrors.ErrTypeReauthorizationRequired, apperrors.ErrTypeAuthentication:
		return "Calendar access needs to be authorized again. Please ask an administrator to re-run the authorization flow."
	case apperrors.ErrTypeTransientProvider:
		return "The calendar service is temporarily unavailable. Please try again in a few minutes."
	default:
		return "The calendar service rejected the event. Please check the details and try again."
	}
}
