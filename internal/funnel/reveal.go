package funnel

import (
	"github.com/nla-consultoria/leadrelay/internal/models"
)

var fieldOrder = map[models.Step][]models.Field{
	models.StepContact:       {models.FieldName, models.FieldPhone, models.FieldEmail},
	models.StepCompany:       {models.FieldCompany, models.FieldUF, models.FieldCity},
	models.StepQualification: {models.FieldBilling, models.FieldSoldToGov, models.FieldPain},
}

var criticalFields = map[models.Field]bool{
	models.FieldPhone:     true,
	models.FieldEmail:     true,
	models.FieldCity:      true,
	models.FieldBilling:   true,
	models.FieldSoldToGov: true,
}

var stepNames = map[models.Step]string{
	models.StepContact:       "contact",
	models.StepCompany:       "company",
	models.StepQualification: "qualification",
}

var fieldLabels = map[models.Field]string{
	models.FieldName:      "Como podemos te chamar?",
	models.FieldPhone:     "Qual seu WhatsApp?",
	models.FieldEmail:     "E seu melhor e-mail?",
	models.FieldCompany:   "Qual o nome da empresa?",
	models.FieldUF:        "Em qual estado você atua?",
	models.FieldCity:      "E a cidade?",
	models.FieldBilling:   "Qual a faixa de faturamento mensal da empresa?",
	models.FieldSoldToGov: "Sua empresa já vendeu para órgãos públicos?",
	models.FieldPain:      "Conte um pouco sobre o que sua empresa faz",
}

// FieldsForStep returns a copy of the step's field order.
func FieldsForStep(step models.Step) []models.Field {
	fields := fieldOrder[step]
	out := make([]models.Field, len(fields))
	copy(out, fields)
	return out
}

// StepOf returns the step a field belongs to, or 0.
func StepOf(field models.Field) models.Step {
	for step, fields := range fieldOrder {
		for _, f := range fields {
			if f == field {
				return step
			}
		}
	}
	return 0
}

// NextField returns the field after field within step. It reports false
// past the last field and for fields that are not part of step.
func NextField(field models.Field, step models.Step) (models.Field, bool) {
	fields := fieldOrder[step]
	for i, f := range fields {
		if f == field {
			if i+1 < len(fields) {
				return fields[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

func IsLastFieldInStep(field models.Field, step models.Step) bool {
	fields := fieldOrder[step]
	return len(fields) > 0 && fields[len(fields)-1] == field
}

// IsCriticalField reports whether completing field can fire a partial delivery.
func IsCriticalField(field models.Field) bool {
	return criticalFields[field]
}

func StepName(step models.Step) string {
	return stepNames[step]
}

func FieldLabel(field models.Field) string {
	return fieldLabels[field]
}

// Reveal tracks the fields currently visible to the user, in reveal order.
// It is not safe for concurrent use; the service guards it per session.
type Reveal struct {
	mode    Mode
	visible []models.Field
}

func NewReveal(mode Mode, step models.Step) *Reveal {
	r := &Reveal{mode: mode}
	r.ResetForStep(step)
	return r
}

// RevealNext makes the field after field visible. Revealing an already
// visible field and revealing past the end of the step are no-ops.
func (r *Reveal) RevealNext(field models.Field, step models.Step) (models.Field, bool) {
	next, ok := NextField(field, step)
	if !ok || r.IsVisible(next) {
		return "", false
	}
	r.visible = append(r.visible, next)
	return next, true
}

// ResetForStep collapses the visible set to the first field of step, or
// to every field of step in ModeAll.
func (r *Reveal) ResetForStep(step models.Step) {
	fields := fieldOrder[step]
	r.visible = r.visible[:0]
	if len(fields) == 0 {
		return
	}
	if r.mode == ModeAll {
		r.visible = append(r.visible, fields...)
		return
	}
	r.visible = append(r.visible, fields[0])
}

func (r *Reveal) IsVisible(field models.Field) bool {
	for _, f := range r.visible {
		if f == field {
			return true
		}
	}
	return false
}

func (r *Reveal) Visible() []models.Field {
	out := make([]models.Field, len(r.visible))
	copy(out, r.visible)
	return out
}

// Last returns the most recently revealed field.
func (r *Reveal) Last() models.Field {
	if len(r.visible) == 0 {
		return models.FieldName
	}
	return r.visible[len(r.visible)-1]
}
