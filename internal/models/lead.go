package models

import (
	"strings"
	"time"
)

type Field string

const (
	FieldName      Field = "name"
	FieldPhone     Field = "phone"
	FieldEmail     Field = "email"
	FieldCompany   Field = "company"
	FieldUF        Field = "uf"
	FieldCity      Field = "city"
	FieldBilling   Field = "billing"
	FieldSoldToGov Field = "soldToGov"
	FieldPain      Field = "pain"
)

var AllFields = []Field{
	FieldName, FieldPhone, FieldEmail,
	FieldCompany, FieldUF, FieldCity,
	FieldBilling, FieldSoldToGov, FieldPain,
}

func ParseField(s string) (Field, bool) {
	for _, f := range AllFields {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

type Step int

const (
	StepContact       Step = 1
	StepCompany       Step = 2
	StepQualification Step = 3
)

func (s Step) Valid() bool {
	return s >= StepContact && s <= StepQualification
}

// Draft holds the values typed into the funnel. JSON keys match the
// payload keys expected by the lead-automation webhook.
type Draft struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Company   string `json:"company"`
	UF        string `json:"uf"`
	City      string `json:"city"`
	Billing   string `json:"billing"`
	SoldToGov string `json:"soldToGov"`
	Pain      string `json:"pain"`
}

func (d *Draft) Get(f Field) string {
	switch f {
	case FieldName:
		return d.Name
	case FieldPhone:
		return d.Phone
	case FieldEmail:
		return d.Email
	case FieldCompany:
		return d.Company
	case FieldUF:
		return d.UF
	case FieldCity:
		return d.City
	case FieldBilling:
		return d.Billing
	case FieldSoldToGov:
		return d.SoldToGov
	case FieldPain:
		return d.Pain
	}
	return ""
}

func (d *Draft) Set(f Field, v string) {
	switch f {
	case FieldName:
		d.Name = v
	case FieldPhone:
		d.Phone = v
	case FieldEmail:
		d.Email = v
	case FieldCompany:
		d.Company = v
	case FieldUF:
		d.UF = v
	case FieldCity:
		d.City = v
	case FieldBilling:
		d.Billing = v
	case FieldSoldToGov:
		d.SoldToGov = v
	case FieldPain:
		d.Pain = v
	}
}

// Filled reports whether every listed field has a non-blank value.
func (d *Draft) Filled(fields ...Field) bool {
	for _, f := range fields {
		if strings.TrimSpace(d.Get(f)) == "" {
			return false
		}
	}
	return true
}

type LeadDraft struct {
	SessionID       string    `json:"session_id"`
	Variant         string    `json:"variant"`
	Data            Draft     `json:"data"`
	Step            Step      `json:"step"`
	LastPartialStep Step      `json:"last_partial_step"`
	Delivered       []Field   `json:"delivered"`
	StepStartedAt   time.Time `json:"step_started_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func NewLeadDraft(variant string, now time.Time) *LeadDraft {
	return &LeadDraft{
		SessionID:     NewSessionID(),
		Variant:       variant,
		Step:          StepContact,
		Delivered:     []Field{},
		StepStartedAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (l *LeadDraft) HasDelivered(f Field) bool {
	for _, d := range l.Delivered {
		if d == f {
			return true
		}
	}
	return false
}

func (l *LeadDraft) MarkDelivered(f Field) {
	if !l.HasDelivered(f) {
		l.Delivered = append(l.Delivered, f)
	}
}
