package events

import (
	"context"
	"time"

	"github.com/nla-consultoria/leadrelay/internal/models"
)

const (
	TypePartialLead  = "partial_lead"
	TypeCompleteLead = "complete_lead"
)

// LeadEvent announces a lead that reached the automation webhook.
type LeadEvent struct {
	Type       string       `json:"type"`
	SessionID  string       `json:"session_id"`
	Field      models.Field `json:"field,omitempty"`
	Step       string       `json:"step"`
	Source     string       `json:"source"`
	Token      string       `json:"token"`
	Lead       models.Draft `json:"lead"`
	OccurredAt time.Time    `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev LeadEvent) error
	Close() error
}

// NopPublisher drops every event. It is used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, LeadEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
