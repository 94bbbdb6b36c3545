package meta

import (
	"errors"
)

var ErrMissingEventName = errors.New("eventName is required")

// IncomingEvent is the body accepted by the meta-events endpoint.
type IncomingEvent struct {
	EventName      string                 `json:"eventName"`
	EventID        string                 `json:"eventId,omitempty"`
	EventTime      int64                  `json:"eventTime,omitempty"`
	EventSourceURL string                 `json:"eventSourceUrl,omitempty"`
	PageLoadID     string                 `json:"pageLoadId,omitempty"`
	UserData       UserInfo               `json:"userData"`
	CustomData     map[string]interface{} `json:"customData,omitempty"`
}

// ToEvent validates the body and attaches the request's client data.
func (in IncomingEvent) ToEvent(clientIP, userAgent string) (Event, error) {
	if in.EventName == "" {
		return Event{}, ErrMissingEventName
	}
	ev := NewEvent(in.EventName, in.CustomData)
	if in.EventID != "" {
		ev.ID = in.EventID
	}
	if in.EventTime > 0 {
		ev.Time = in.EventTime
	}
	ev.SourceURL = in.EventSourceURL
	ev.User = in.UserData
	ev.User.ClientIP = clientIP
	ev.User.UserAgent = userAgent
	return ev, nil
}
