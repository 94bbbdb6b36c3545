package funnel

import (
	"strings"
	"unicode/utf8"

	"github.com/nla-consultoria/leadrelay/internal/models"
)

// predecessors lists, per triggering field, the fields that must all be
// non-blank before a partial delivery for it may be sent. The list is
// also the exact set of data keys the partial payload carries.
var predecessors = map[models.Field][]models.Field{
	models.FieldPhone: {models.FieldName, models.FieldPhone},
	models.FieldEmail: {models.FieldName, models.FieldPhone, models.FieldEmail},
	models.FieldCity: {
		models.FieldName, models.FieldPhone, models.FieldEmail,
		models.FieldCompany, models.FieldUF, models.FieldCity,
	},
	models.FieldBilling: {
		models.FieldName, models.FieldPhone, models.FieldEmail,
		models.FieldCompany, models.FieldUF, models.FieldCity,
		models.FieldBilling,
	},
	models.FieldSoldToGov: {
		models.FieldName, models.FieldPhone, models.FieldEmail,
		models.FieldCompany, models.FieldUF, models.FieldCity,
		models.FieldBilling, models.FieldSoldToGov,
	},
}

// Predecessors returns the required set for a triggering field.
func Predecessors(field models.Field) ([]models.Field, bool) {
	p, ok := predecessors[field]
	if !ok {
		return nil, false
	}
	out := make([]models.Field, len(p))
	copy(out, p)
	return out, true
}

// Settled reports whether value is past the minimum-completeness threshold
// for field. Only settled values reveal the next field or fire deliveries.
func Settled(field models.Field, value string) bool {
	switch field {
	case models.FieldName:
		return utf8.RuneCountInString(value) >= 3
	case models.FieldPhone:
		return len(value) >= 14
	case models.FieldEmail:
		return strings.Contains(value, "@")
	case models.FieldCompany:
		return utf8.RuneCountInString(value) >= 2
	default:
		return strings.TrimSpace(value) != ""
	}
}

// ShouldDeliver reports whether a settled value of field in d may fire a
// partial delivery. The delivered set is checked separately.
func ShouldDeliver(d models.Draft, field models.Field) bool {
	required, ok := predecessors[field]
	if !ok {
		return false
	}
	return Settled(field, d.Get(field)) && d.Filled(required...)
}

func fieldNames(fields []models.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}
