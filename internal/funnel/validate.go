package funnel

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nla-consultoria/leadrelay/internal/models"
)

var ErrInvalidStep = errors.New("invalid step")

// phoneMask is the national mobile format produced by FormatPhone.
var phoneMask = regexp.MustCompile(`^\(\d{2}\) \d{5}-\d{4}$`)

// ValidationError is a user-correctable problem with one field.
type ValidationError struct {
	Field   models.Field `json:"field"`
	Message string       `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

type rule struct {
	field   models.Field
	tag     string
	message string
	prepare func(string) string
}

var stepRules = map[models.Step][]rule{
	models.StepContact: {
		{field: models.FieldName, tag: "min=2", message: "Informe seu nome", prepare: strings.TrimSpace},
		{field: models.FieldPhone, tag: "br_mobile", message: "Formato: (00) 00000-0000"},
		{field: models.FieldEmail, tag: "email", message: "E-mail inválido", prepare: strings.TrimSpace},
	},
	models.StepCompany: {
		{field: models.FieldCompany, tag: "min=1", message: "Informe sua empresa", prepare: strings.TrimSpace},
		{field: models.FieldUF, tag: "len=2,alpha", message: "Selecione o UF", prepare: NormalizeUF},
		{field: models.FieldCity, tag: "min=2", message: "Selecione sua cidade", prepare: NormalizeCity},
	},
	models.StepQualification: {
		{field: models.FieldBilling, tag: "min=1", message: "Selecione uma faixa", prepare: strings.TrimSpace},
		{field: models.FieldSoldToGov, tag: "oneof=sim nao", message: "Informe se já vendeu para governo"},
		{field: models.FieldPain, tag: "min=2", message: "Descreva sua principal dor", prepare: strings.TrimSpace},
	},
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("br_mobile", func(fl validator.FieldLevel) bool {
		return phoneMask.MatchString(fl.Field().String())
	})
	return v
}

// CheckStep validates the fields of one step and returns the first failure
// as a *ValidationError. The draft is never modified.
func CheckStep(d models.Draft, step models.Step) error {
	rules, ok := stepRules[step]
	if !ok {
		return ErrInvalidStep
	}
	for _, r := range rules {
		value := d.Get(r.field)
		if r.prepare != nil {
			value = r.prepare(value)
		}
		if err := validate.Var(value, r.tag); err != nil {
			return &ValidationError{Field: r.field, Message: r.message}
		}
	}
	return nil
}

// ValidateStep returns "" when step is valid, otherwise the first failing
// field's message.
func ValidateStep(d models.Draft, step models.Step) string {
	if err := CheckStep(d, step); err != nil {
		return err.Error()
	}
	return ""
}

// ValidateLead checks every step in order, as required before the final
// submission.
func ValidateLead(d models.Draft) error {
	for step := models.StepContact; step <= models.StepQualification; step++ {
		if err := CheckStep(d, step); err != nil {
			return err
		}
	}
	return nil
}

// FormatPhone applies the "(NN) NNNNN-NNNN" input mask to whatever digits
// raw contains. Digits past the eleventh are dropped.
func FormatPhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > 11 {
		digits = digits[:11]
	}
	switch {
	case len(digits) == 0:
		return ""
	case len(digits) <= 2:
		return "(" + digits
	case len(digits) <= 7:
		return "(" + digits[:2] + ") " + digits[2:]
	default:
		return "(" + digits[:2] + ") " + digits[2:7] + "-" + digits[7:]
	}
}

func NormalizeUF(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// NormalizeCity cleans a manually typed city: trimmed, inner whitespace
// collapsed, at most 100 characters, each word capitalized.
func NormalizeCity(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	if utf8.RuneCountInString(s) > 100 {
		s = strings.TrimSpace(string([]rune(s)[:100]))
	}
	if s == "" {
		return ""
	}
	// Casers keep state between calls.
	return cases.Title(language.BrazilianPortuguese).String(s)
}

// InitialStep picks the step a reopened draft resumes at.
func InitialStep(d models.Draft) models.Step {
	switch {
	case d.Filled(models.FieldName, models.FieldPhone, models.FieldEmail,
		models.FieldCompany, models.FieldUF, models.FieldCity):
		return models.StepQualification
	case d.Filled(models.FieldName, models.FieldPhone, models.FieldEmail):
		return models.StepCompany
	default:
		return models.StepContact
	}
}
