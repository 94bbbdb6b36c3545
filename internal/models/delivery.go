package models

import (
	"encoding/json"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySuccess   DeliveryStatus = "success"
	DeliveryRetrying  DeliveryStatus = "retrying"
	DeliveryExhausted DeliveryStatus = "exhausted"
)

type Attempt struct {
	ID            string         `json:"id"`
	Token         string         `json:"token"`
	URL           string         `json:"url"`
	AttemptNumber int            `json:"attempt_number"`
	Status        DeliveryStatus `json:"status"`
	StatusCode    int            `json:"status_code"`
	ResponseBody  string         `json:"response_body"`
	LatencyMs     int64          `json:"latency_ms"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// FailedDelivery is a delivery that used up every attempt. It stays
// stored until a resend succeeds.
type FailedDelivery struct {
	ID       string          `json:"id"`
	URL      string          `json:"url"`
	Payload  json.RawMessage `json:"payload"`
	Token    string          `json:"token"`
	FailedAt time.Time       `json:"failed_at"`
}
