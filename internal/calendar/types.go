// Package calendar wraps the Google Calendar API for event writes and reads.
package calendar

import (
	"errors"
	"fmt"
	"regexp"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

// ErrNotAuthorized is returned when no usable OAuth credentials or token are
// available. Callers degrade to local-only mode instead of failing.
var ErrNotAuthorized = errors.New("calendar not authorized")

// EventPayload carries the writable fields of an event. StartTime and
// EndTime must either both be dates (YYYY-MM-DD) or both be RFC3339
// date-times.
type EventPayload struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

// RemoteEvent is a read-side view of an event on the remote calendar.
type RemoteEvent struct {
	ID          string `json:"id"`
	CalendarID  string `json:"calendar_id"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

// RejectionError reports a payload the remote API (or local validation)
// refused. Rejections are candidates for an AI repair attempt; other errors
// are not.
type RejectionError struct {
	Code    int
	Message string
}

func (e *RejectionError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("payload rejected: %s", e.Message)
	}
	return fmt.Sprintf("payload rejected (HTTP %d): %s", e.Code, e.Message)
}

// AsRejection unwraps err into a RejectionError if it is one.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

var dateOnlyRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// eventTime maps a payload time string onto the API's date/dateTime split.
func eventTime(s string) *gcal.EventDateTime {
	if dateOnlyRe.MatchString(s) {
		return &gcal.EventDateTime{Date: s}
	}
	return &gcal.EventDateTime{DateTime: s}
}

// toGoogleEvent validates the payload and converts it to the API type.
// Mixing a date start with a date-time end (or vice versa) is a rejection.
func toGoogleEvent(p EventPayload) (*gcal.Event, error) {
	if p.Summary == "" {
		return nil, &RejectionError{Message: "summary is required"}
	}
	if p.StartTime == "" || p.EndTime == "" {
		return nil, &RejectionError{Message: "start_time and end_time are required"}
	}
	if dateOnlyRe.MatchString(p.StartTime) != dateOnlyRe.MatchString(p.EndTime) {
		return nil, &RejectionError{Message: "start_time and end_time must both be dates or both be date-times"}
	}

	return &gcal.Event{
		Summary:     p.Summary,
		Description: p.Description,
		Location:    p.Location,
		Start:       eventTime(p.StartTime),
		End:         eventTime(p.EndTime),
	}, nil
}

// fromGoogleEvent converts an API event into the read-side view.
func fromGoogleEvent(calendarID string, item *gcal.Event) RemoteEvent {
	ev := RemoteEvent{
		ID:          item.Id,
		CalendarID:  calendarID,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
	}
	if item.Start != nil {
		ev.Start = item.Start.DateTime
		if ev.Start == "" {
			ev.Start = item.Start.Date
		}
	}
	if item.End != nil {
		ev.End = item.End.DateTime
		if ev.End == "" {
			ev.End = item.End.Date
		}
	}
	return ev
}

// classify maps API errors onto the package's error vocabulary. 401 and 403
// degrade to ErrNotAuthorized; other 4xx responses are rejections the
// reconciler may try to repair.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 401 || gerr.Code == 403:
			return fmt.Errorf("%w: %s", ErrNotAuthorized, gerr.Message)
		case gerr.Code >= 400 && gerr.Code < 500:
			return &RejectionError{Code: gerr.Code, Message: gerr.Message}
		}
	}
	return err
}
