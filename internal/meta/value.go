package meta

import (
	"strings"
)

const (
	Currency         = "BRL"
	DefaultLeadValue = 300
)

// leadValues maps billing bands to the value reported for a lead. Both
// the form's labels and the older "R$ x - R$ y" spellings are accepted.
var leadValues = map[string]int{
	"acima de r$ 1 mi":        1500,
	"r$ 500 mil – 1 mi":       1000,
	"r$ 500 mil - r$ 1 mi":    1000,
	"r$ 200–500 mil":          700,
	"r$ 200 mil - r$ 500 mil": 700,
	"r$ 50–200 mil":           400,
	"r$ 50 mil - r$ 200 mil":  400,
	"até r$ 50 mil":           200,
}

// LeadValue returns the BRL value for a billing band, 300 when unknown.
func LeadValue(billing string) int {
	if v, ok := leadValues[strings.ToLower(strings.Join(strings.Fields(billing), " "))]; ok {
		return v
	}
	return DefaultLeadValue
}

// PartialValue is the value reported with a PartialSubmit event.
func PartialValue(field string) (int, bool) {
	switch field {
	case "phone":
		return 50, true
	case "email":
		return 100, true
	}
	return 0, false
}
