package funnel

import (
	"time"

	"github.com/nla-consultoria/leadrelay/internal/models"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// partialPayload carries exactly the predecessor fields of field plus the
// envelope keys. Fields filled later are never included.
func partialPayload(d *models.LeadDraft, v Variant, field models.Field, now time.Time) map[string]interface{} {
	required, _ := Predecessors(field)
	payload := make(map[string]interface{}, len(required)+7)
	for _, f := range required {
		payload[string(f)] = outgoingValue(d.Data, f)
	}
	payload["session_id"] = d.SessionID
	payload["event_type"] = "partial_lead"
	payload["status"] = "partial"
	payload["field_completed"] = string(field)
	payload["step"] = StepName(d.Step)
	payload["source"] = v.Source
	payload["timestamp"] = now.UTC().Format(timestampLayout)
	return payload
}

func finalPayload(d *models.LeadDraft, v Variant, now time.Time) map[string]interface{} {
	payload := make(map[string]interface{}, len(models.AllFields)+7)
	for _, f := range models.AllFields {
		payload[string(f)] = outgoingValue(d.Data, f)
	}
	payload["session_id"] = d.SessionID
	payload["event_type"] = "complete_lead"
	payload["status"] = "complete"
	payload["source"] = v.Source
	payload["step"] = "final"
	payload["stepCount"] = 3
	payload["timestamp"] = now.UTC().Format(timestampLayout)
	return payload
}

func outgoingValue(d models.Draft, f models.Field) string {
	switch f {
	case models.FieldUF:
		return NormalizeUF(d.UF)
	case models.FieldCity:
		return NormalizeCity(d.City)
	}
	return d.Get(f)
}
