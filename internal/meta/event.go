package meta

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const actionSourceWebsite = "website"

// Event is one conversion event before it is hashed and sent.
type Event struct {
	Name      string
	ID        string
	Time      int64
	SourceURL string
	User      UserInfo
	Custom    map[string]interface{}
}

func NewEvent(name string, custom map[string]interface{}) Event {
	if custom == nil {
		custom = map[string]interface{}{}
	}
	return Event{
		Name:   name,
		ID:     uuid.NewString(),
		Time:   time.Now().Unix(),
		Custom: custom,
	}
}

// serverEvent is the wire shape of one element of the "data" array.
type serverEvent struct {
	EventName      string                 `json:"event_name"`
	EventTime      int64                  `json:"event_time"`
	EventID        string                 `json:"event_id"`
	ActionSource   string                 `json:"action_source"`
	EventSourceURL string                 `json:"event_source_url,omitempty"`
	UserData       UserData               `json:"user_data"`
	CustomData     map[string]interface{} `json:"custom_data,omitempty"`
}

func (e Event) wire() serverEvent {
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := e.Time
	if ts == 0 {
		ts = time.Now().Unix()
	}
	return serverEvent{
		EventName:      e.Name,
		EventTime:      ts,
		EventID:        id,
		ActionSource:   actionSourceWebsite,
		EventSourceURL: e.SourceURL,
		UserData:       e.User.Hash(),
		CustomData:     e.Custom,
	}
}

// LeadUser builds the matching data for a lead from its form values.
func LeadUser(name, email, phone, city, state string) UserInfo {
	first, last := SplitFullName(name)
	return UserInfo{
		Email:     email,
		Phone:     phone,
		FirstName: first,
		LastName:  last,
		City:      city,
		State:     state,
	}
}

func InitiateCheckout(source string) Event {
	return NewEvent("InitiateCheckout", map[string]interface{}{
		"content_category": "lead_form",
		"content_name":     source + "_modal",
		"source":           source,
	})
}

func StepStart(step int, stepName, source string) Event {
	return NewEvent(fmt.Sprintf("LeadStep%dStart", step), map[string]interface{}{
		"step_number": step,
		"step_name":   stepName,
		"source":      source,
	})
}

func StepComplete(step int, stepName, source string) Event {
	return NewEvent(fmt.Sprintf("LeadStep%dComplete", step), map[string]interface{}{
		"step_number": step,
		"step_name":   stepName,
		"source":      source,
	})
}

func StepAbandoned(step int, stepName, lastField string, timeSpent int, source string) Event {
	return NewEvent(fmt.Sprintf("LeadStep%dAbandoned", step), map[string]interface{}{
		"step_number":          step,
		"step_name":            stepName,
		"last_field_completed": lastField,
		"time_spent":           timeSpent,
		"source":               source,
	})
}

// PartialSubmit is sent instead of the standard Lead event for partial leads.
func PartialSubmit(field string, value int, user UserInfo) Event {
	ev := NewEvent("PartialSubmit", map[string]interface{}{
		"content_name": "partial_lead_" + field,
		"status":       "partial",
		"field_name":   field,
		"value":        value,
		"currency":     Currency,
	})
	ev.User = user
	return ev
}

func QualifiedLead(billing string, govExperience bool, user UserInfo, source string) Event {
	ev := NewEvent("QualifiedLead", map[string]interface{}{
		"step_number":      3,
		"step_name":        "qualification",
		"billing_range":    billing,
		"gov_experience":   govExperience,
		"source":           source,
		"value":            LeadValue(billing),
		"currency":         Currency,
		"content_name":     "lead_qualification",
		"content_category": "b2g_consulting",
	})
	ev.User = user
	return ev
}

func CompleteRegistration(user UserInfo, billing string, govExperience bool, pain, source string) Event {
	ev := NewEvent("CompleteRegistration", map[string]interface{}{
		"content_name":     source + "_full_lead",
		"content_category": "b2g_consulting",
		"status":           "complete",
		"value":            1000,
		"currency":         Currency,
		"billing_range":    billing,
		"gov_experience":   govExperience,
		"pain_description": pain,
	})
	ev.User = user
	return ev
}

// Lead is the standard event, reserved for complete submissions.
func Lead(user UserInfo, billing string, govExperience bool, pain, source string) Event {
	value := 1500
	if billing != "" {
		value = LeadValue(billing)
	}
	ev := NewEvent("Lead", map[string]interface{}{
		"content_name":     source + "_complete_lead",
		"content_category": "b2g_consulting",
		"status":           "complete",
		"value":            value,
		"currency":         Currency,
		"billing_range":    billing,
		"gov_experience":   govExperience,
		"pain_description": pain,
	})
	ev.User = user
	return ev
}
