package funnel

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nla-consultoria/leadrelay/internal/delivery"
	"github.com/nla-consultoria/leadrelay/internal/events"
	"github.com/nla-consultoria/leadrelay/internal/models"
	"github.com/nla-consultoria/leadrelay/internal/storage"
)

func openSession(t *testing.T, h *harness, variant string) *View {
	t.Helper()
	v, err := h.svc.Open(context.Background(), "", variant)
	require.NoError(t, err)
	return v
}

func putDraft(t *testing.T, h *harness, id string, data models.Draft, step models.Step) {
	t.Helper()
	d, err := h.store.GetDraft(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, d)
	d.Data = data
	d.Step = step
	require.NoError(t, h.store.SaveDraft(context.Background(), d))
}

func TestOpen_NewSession(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "lp-2")

	assert.True(t, strings.HasPrefix(v.SessionID, "session_"))
	assert.Equal(t, "lp-2", v.Variant)
	assert.Equal(t, models.StepContact, v.Step)
	assert.Equal(t, []models.Field{models.FieldName}, v.Visible)
	assert.Equal(t, []string{"Como podemos te chamar?"}, v.Labels)
	assert.Equal(t, 1, h.store.count())
	assert.Equal(t, 1, h.replayer.count(), "open replays failed deliveries")
	assert.Equal(t, []string{"InitiateCheckout", "LeadStep1Start"}, h.tracker.names())
}

func TestOpen_DefaultVariantShowsWholeStep(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "")
	assert.Equal(t, "default", v.Variant)
	assert.Equal(t, []models.Field{models.FieldName, models.FieldPhone, models.FieldEmail}, v.Visible)
}

func TestOpen_ResumesDraftAtDerivedStep(t *testing.T) {
	h := newHarness(t)
	first := openSession(t, h, "lp-2")
	putDraft(t, h, first.SessionID, models.Draft{
		Name: "Maria Silva", Phone: "(11) 91234-5678", Email: "maria@example.com", Company: "ACME",
	}, models.StepContact)

	v, err := h.svc.Open(context.Background(), first.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, v.SessionID)
	assert.Equal(t, models.StepCompany, v.Step)
	assert.Equal(t, []models.Field{models.FieldCompany, models.FieldUF}, v.Visible, "settled company reveals uf")
	assert.Equal(t, "Maria Silva", v.Data.Name)
}

func TestOpen_UnknownSessionStartsFresh(t *testing.T) {
	h := newHarness(t)
	v, err := h.svc.Open(context.Background(), "session_gone", "lp-2")
	require.NoError(t, err)
	assert.NotEqual(t, "session_gone", v.SessionID)
}

func TestSetField_NormalizesInput(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "lp-2")
	ctx := context.Background()

	got, err := h.svc.SetField(ctx, v.SessionID, models.FieldPhone, "11912345678")
	require.NoError(t, err)
	assert.Equal(t, "(11) 91234-5678", got.Data.Phone)

	got, err = h.svc.SetField(ctx, v.SessionID, models.FieldUF, " sp")
	require.NoError(t, err)
	assert.Equal(t, "SP", got.Data.UF)

	stored, _ := h.store.GetDraft(ctx, v.SessionID)
	assert.Equal(t, "(11) 91234-5678", stored.Data.Phone)
}

func TestSetField_Errors(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "lp-2")

	_, err := h.svc.SetField(context.Background(), "session_nope", models.FieldName, "x")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.svc.SetField(context.Background(), v.SessionID, models.Field("age"), "40")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestReveal_AdvancesOnlyAfterSettledValue(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "lp-2")
	ctx := context.Background()

	_, err := h.svc.SetField(ctx, v.SessionID, models.FieldName, "Ma")
	require.NoError(t, err)
	settle()
	got, _ := h.svc.Get(ctx, v.SessionID)
	assert.Equal(t, []models.Field{models.FieldName}, got.Visible, "two letters do not settle a name")

	_, err = h.svc.SetField(ctx, v.SessionID, models.FieldName, "Maria")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := h.svc.Get(ctx, v.SessionID)
		return len(got.Visible) == 2
	}, time.Second, 5*time.Millisecond)

	got, _ = h.svc.Get(ctx, v.SessionID)
	assert.Equal(t, []models.Field{models.FieldName, models.FieldPhone}, got.Visible)

	_, err = h.svc.SetField(ctx, v.SessionID, models.FieldPhone, "(11) 91234-5678")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := h.svc.Get(ctx, v.SessionID)
		return len(got.Visible) == 3
	}, time.Second, 5*time.Millisecond)
	got, _ = h.svc.Get(ctx, v.SessionID)
	assert.Equal(t, []models.Field{models.FieldName, models.FieldPhone, models.FieldEmail}, got.Visible)
}

func TestReveal_HiddenFieldDoesNotRevealSuccessor(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "lp-2")
	ctx := context.Background()

	_, err := h.svc.SetField(ctx, v.SessionID, models.FieldPhone, "(11) 91234-5678")
	require.NoError(t, err)
	settle()

	got, _ := h.svc.Get(ctx, v.SessionID)
	assert.Equal(t, []models.Field{models.FieldName}, got.Visible)
}

func TestPartial_PhoneDeliveredOnce(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "lp-2")
	ctx := context.Background()

	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldName, "Maria Silva")
	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldPhone, "(11) 91234-5678")
	require.Eventually(t, func() bool { return len(h.deliverer.requests()) == 1 }, time.Second, 5*time.Millisecond)

	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldPhone, "(11) 99999-0000")
	settle()

	reqs := h.deliverer.requests()
	require.Len(t, reqs, 1, "a field is delivered at most once per session")
	req := reqs[0]
	assert.True(t, strings.HasPrefix(req.Token, "partial_"+v.SessionID+"_phone_"))
	assert.Equal(t, "https://hooks.example.com/lead", req.URL)
	assert.Equal(t, []string{"name", "phone"}, req.Required)
	assert.Equal(t, "phone", req.Payload["field_completed"])
	assert.Equal(t, "Maria Silva", req.Payload["name"])
	assert.Equal(t, "(11) 91234-5678", req.Payload["phone"])
	assert.Equal(t, "partial_lead", req.Payload["event_type"])
	assert.Equal(t, "partial", req.Payload["status"])
	assert.Equal(t, "contact", req.Payload["step"])
	assert.Equal(t, "lp-2", req.Payload["source"])
	assert.Equal(t, v.SessionID, req.Payload["session_id"])
	assert.NotContains(t, req.Payload, "email")

	got, _ := h.svc.Get(ctx, v.SessionID)
	assert.Equal(t, []models.Field{models.FieldPhone}, got.Delivered)
	assert.Contains(t, h.tracker.names(), "PartialSubmit")

	published := h.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypePartialLead, published[0].Type)
	assert.Equal(t, models.FieldPhone, published[0].Field)
}

func TestPartial_WaitsForPredecessorThenFiresOnce(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "")
	ctx := context.Background()

	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldPhone, "(11) 91234-5678")
	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldEmail, "maria@example.com")
	settle()

	assert.Empty(t, h.deliverer.requests(), "nothing is sent while name is empty")
	got, _ := h.svc.Get(ctx, v.SessionID)
	assert.Empty(t, got.Delivered)

	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldName, "Maria Silva")
	require.Eventually(t, func() bool { return len(h.deliverer.requests()) == 2 }, time.Second, 5*time.Millisecond)

	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldName, "Maria Silva Souza")
	settle()

	byField := map[string]int{}
	var phone delivery.Request
	for _, r := range h.deliverer.requests() {
		f := r.Payload["field_completed"].(string)
		byField[f]++
		if f == "phone" {
			phone = r
		}
	}
	assert.Equal(t, map[string]int{"phone": 1, "email": 1}, byField)
	assert.Equal(t, "Maria Silva", phone.Payload["name"])
	assert.NotContains(t, phone.Payload, "email")

	got, _ = h.svc.Get(ctx, v.SessionID)
	assert.ElementsMatch(t, []models.Field{models.FieldPhone, models.FieldEmail}, got.Delivered)
}

func TestOpen_DeliversSettledFieldsOfResumedStep(t *testing.T) {
	h := newHarness(t)
	first := openSession(t, h, "lp-2")
	putDraft(t, h, first.SessionID, models.Draft{
		Name: "Maria Silva", Phone: "(11) 91234-5678",
	}, models.StepContact)

	v, err := h.svc.Open(context.Background(), first.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, models.StepContact, v.Step)
	assert.Equal(t, []models.Field{models.FieldPhone}, v.Delivered)

	reqs := h.deliverer.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "phone", reqs[0].Payload["field_completed"])
	assert.Equal(t, "Maria Silva", reqs[0].Payload["name"])

	_, err = h.svc.Open(context.Background(), first.SessionID, "")
	require.NoError(t, err)
	assert.Len(t, h.deliverer.requests(), 1, "reopening does not resend")
}

func TestPartial_EmailCarriesContactFields(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "")
	ctx := context.Background()

	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldName, "Maria Silva")
	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldPhone, "(11) 91234-5678")
	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldEmail, "maria@example.com")
	require.Eventually(t, func() bool { return len(h.deliverer.requests()) == 2 }, time.Second, 5*time.Millisecond)

	var email delivery.Request
	for _, r := range h.deliverer.requests() {
		if r.Payload["field_completed"] == "email" {
			email = r
		}
	}
	require.NotNil(t, email.Payload)
	assert.Equal(t, "maria@example.com", email.Payload["email"])
	assert.Equal(t, []string{"name", "phone", "email"}, email.Required)
	assert.NotContains(t, email.Payload, "company")
}

func TestPartial_IgnoredOutsideCurrentStep(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "")
	ctx := context.Background()
	putDraft(t, h, v.SessionID, models.Draft{
		Name: "Maria Silva", Phone: "(11) 91234-5678", Email: "maria@example.com",
		Company: "ACME", UF: "SP",
	}, models.StepContact)

	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldCity, "Campinas")
	settle()
	assert.Empty(t, h.deliverer.requests())
}

func TestPartial_ClaimedElsewhereIsSkipped(t *testing.T) {
	h := newHarness(t)
	claims := storage.NewMemoryClaims()
	h.svc.claims = claims
	v := openSession(t, h, "")
	ctx := context.Background()

	ok, err := claims.Claim(ctx, "delivered:"+v.SessionID+":phone", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldName, "Maria Silva")
	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldPhone, "(11) 91234-5678")
	require.Eventually(t, func() bool {
		got, _ := h.svc.Get(ctx, v.SessionID)
		return len(got.Delivered) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.deliverer.requests())
}

func TestPartial_SoldToGovReportsQualifiedLead(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "")
	ctx := context.Background()
	data := validDraft()
	data.SoldToGov = ""
	putDraft(t, h, v.SessionID, data, models.StepQualification)

	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldSoldToGov, "sim")
	require.Eventually(t, func() bool { return len(h.deliverer.requests()) == 1 }, time.Second, 5*time.Millisecond)

	req := h.deliverer.requests()[0]
	assert.Equal(t, "soldToGov", req.Payload["field_completed"])
	assert.Equal(t, "qualification", req.Payload["step"])
	assert.Equal(t, "São Paulo", req.Payload["city"])
	assert.NotContains(t, req.Payload, "pain")
	assert.Contains(t, h.tracker.names(), "QualifiedLead")
}

func TestPartial_ConcurrentSessionsAreIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		v := openSession(t, h, "")
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = h.svc.SetField(ctx, id, models.FieldName, "Maria Silva")
			_, _ = h.svc.SetField(ctx, id, models.FieldPhone, "(11) 91234-5678")
			_, _ = h.svc.SetField(ctx, id, models.FieldPhone, "(11) 91234-5678")
		}(v.SessionID)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(h.deliverer.requests()) == 5 }, time.Second, 5*time.Millisecond)
	settle()
	seen := map[string]bool{}
	for _, r := range h.deliverer.requests() {
		id := r.Payload["session_id"].(string)
		assert.False(t, seen[id], "session %s delivered twice", id)
		seen[id] = true
	}
}

func TestFocus_RevealsAfterSettledPredecessor(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "lp-2")
	ctx := context.Background()

	got, err := h.svc.Focus(ctx, v.SessionID, models.FieldPhone)
	require.NoError(t, err)
	assert.False(t, contains(got.Visible, models.FieldPhone), "empty name keeps phone hidden")

	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldName, "Maria")
	got, err = h.svc.Focus(ctx, v.SessionID, models.FieldPhone)
	require.NoError(t, err)
	assert.Equal(t, []models.Field{models.FieldName, models.FieldPhone}, got.Visible)

	got, err = h.svc.Focus(ctx, v.SessionID, models.FieldEmail)
	require.NoError(t, err)
	assert.False(t, contains(got.Visible, models.FieldEmail))
}

func TestNextAndBack(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "lp-2")
	ctx := context.Background()

	_, err := h.svc.Next(ctx, v.SessionID)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Informe seu nome", verr.Message)

	putDraft(t, h, v.SessionID, models.Draft{
		Name: "Maria Silva", Phone: "(11) 91234-5678", Email: "maria@example.com",
	}, models.StepContact)

	got, err := h.svc.Next(ctx, v.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompany, got.Step)
	assert.Equal(t, []models.Field{models.FieldCompany}, got.Visible)
	assert.Contains(t, h.tracker.names(), "LeadStep1Complete")
	assert.Contains(t, h.tracker.names(), "LeadStep2Start")

	_, err = h.svc.Next(ctx, v.SessionID)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, models.FieldCompany, verr.Field)

	got, err = h.svc.Back(ctx, v.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StepContact, got.Step)
	assert.Equal(t, []models.Field{models.FieldName, models.FieldPhone, models.FieldEmail}, got.Visible)

	got, err = h.svc.Back(ctx, v.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StepContact, got.Step)
}

func TestNext_NormalizesCompanyStep(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "")
	data := validDraft()
	data.UF = "sp"
	data.City = "  campinas "
	putDraft(t, h, v.SessionID, data, models.StepCompany)

	got, err := h.svc.Next(context.Background(), v.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StepQualification, got.Step)
	assert.Equal(t, "SP", got.Data.UF)
	assert.Equal(t, "Campinas", got.Data.City)

	_, err = h.svc.Next(context.Background(), v.SessionID)
	assert.ErrorIs(t, err, ErrLastStep)
}

func TestSubmit_Success(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "lp-2")
	ctx := context.Background()
	putDraft(t, h, v.SessionID, validDraft(), models.StepQualification)

	res, err := h.svc.Submit(ctx, v.SessionID)
	require.NoError(t, err)
	assert.Equal(t, v.SessionID, res.SubmittedSession)
	assert.NotEqual(t, v.SessionID, res.Session.SessionID, "session id regenerated")
	assert.Equal(t, models.StepContact, res.Session.Step)
	assert.Equal(t, "lp-2", res.Session.Variant)

	reqs := h.deliverer.requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, "final_"+v.SessionID, req.Token)
	assert.Len(t, req.Required, 9)
	assert.Equal(t, "complete_lead", req.Payload["event_type"])
	assert.Equal(t, "complete", req.Payload["status"])
	assert.Equal(t, "final", req.Payload["step"])
	assert.Equal(t, 3, req.Payload["stepCount"])
	assert.Equal(t, "ACME Ltda", req.Payload["company"])
	assert.Equal(t, "Queremos vender para prefeituras", req.Payload["pain"])

	old, _ := h.store.GetDraft(ctx, v.SessionID)
	assert.Nil(t, old, "draft cleared")
	fresh, _ := h.store.GetDraft(ctx, res.Session.SessionID)
	require.NotNil(t, fresh)

	names := h.tracker.names()
	assert.Contains(t, names, "CompleteRegistration")
	assert.Contains(t, names, "Lead")

	published := h.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeCompleteLead, published[0].Type)
}

func TestSubmit_DeliveryFailureKeepsDraft(t *testing.T) {
	h := newHarness(t)
	h.deliverer.err = &delivery.ExhaustedError{Token: "final", Attempts: 3}
	v := openSession(t, h, "")
	ctx := context.Background()
	putDraft(t, h, v.SessionID, validDraft(), models.StepQualification)

	_, err := h.svc.Submit(ctx, v.SessionID)
	require.ErrorIs(t, err, ErrSubmitFailed)

	d, _ := h.store.GetDraft(ctx, v.SessionID)
	require.NotNil(t, d)
	assert.Equal(t, "Maria Silva", d.Data.Name)
	assert.NotContains(t, h.tracker.names(), "Lead")
	assert.Empty(t, h.publisher.published())
}

func TestSubmit_InvalidLeadSendsNothing(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "")
	data := validDraft()
	data.Email = "nope"
	putDraft(t, h, v.SessionID, data, models.StepQualification)

	_, err := h.svc.Submit(context.Background(), v.SessionID)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, models.FieldEmail, verr.Field)
	assert.Empty(t, h.deliverer.requests())
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "lp-2")
	ctx := context.Background()
	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldName, "Maria Silva")

	got, err := h.svc.Reset(ctx, v.SessionID)
	require.NoError(t, err)
	assert.NotEqual(t, v.SessionID, got.SessionID)
	assert.Empty(t, got.Data.Name)
	assert.Equal(t, "lp-2", got.Variant)

	old, _ := h.store.GetDraft(ctx, v.SessionID)
	assert.Nil(t, old)

	_, err = h.svc.Reset(ctx, v.SessionID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAbandon(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "lp-2")
	ctx := context.Background()

	require.NoError(t, h.svc.Abandon(ctx, v.SessionID))
	h.tracker.mu.Lock()
	last := h.tracker.events[len(h.tracker.events)-1]
	h.tracker.mu.Unlock()
	assert.Equal(t, "LeadStep1Abandoned", last.Name)
	assert.Equal(t, "name", last.Custom["last_field_completed"])

	putDraft(t, h, v.SessionID, validDraft(), models.StepQualification)
	before := len(h.tracker.names())
	require.NoError(t, h.svc.Abandon(ctx, v.SessionID))
	assert.Len(t, h.tracker.names(), before, "nothing reported on the last step")

	d, _ := h.store.GetDraft(ctx, v.SessionID)
	assert.NotNil(t, d, "abandoning keeps the draft")
}

func TestAbandon_DropsSessionState(t *testing.T) {
	h := newHarness(t)
	v := openSession(t, h, "lp-2")
	ctx := context.Background()
	_, _ = h.svc.SetField(ctx, v.SessionID, models.FieldName, "Maria")
	require.Eventually(t, func() bool {
		got, _ := h.svc.Get(ctx, v.SessionID)
		return len(got.Visible) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.svc.Abandon(ctx, v.SessionID))
	h.svc.mu.Lock()
	_, tracked := h.svc.sessions[v.SessionID]
	h.svc.mu.Unlock()
	assert.False(t, tracked)

	got, err := h.svc.Get(ctx, v.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []models.Field{models.FieldName, models.FieldPhone}, got.Visible, "state rebuilt from the draft")
}

func TestEvictIdleSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, openSession(t, h, "").SessionID)
	}

	h.svc.mu.Lock()
	h.svc.evictIdleLocked(time.Now().Add(time.Minute))
	kept := len(h.svc.sessions)
	h.svc.evictIdleLocked(time.Now().Add(sessionIdleTTL + time.Minute))
	left := len(h.svc.sessions)
	h.svc.mu.Unlock()

	assert.Equal(t, 3, kept, "recently used sessions stay")
	assert.Zero(t, left)

	for _, id := range ids {
		got, err := h.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.SessionID)
	}
}

func contains(fields []models.Field, f models.Field) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}
