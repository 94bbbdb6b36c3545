package funnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nla-consultoria/leadrelay/internal/config"
	"github.com/nla-consultoria/leadrelay/internal/delivery"
	"github.com/nla-consultoria/leadrelay/internal/events"
	"github.com/nla-consultoria/leadrelay/internal/meta"
	"github.com/nla-consultoria/leadrelay/internal/models"
	"github.com/nla-consultoria/leadrelay/internal/storage"
)

// SubmitFailedMessage is shown to the user when the final delivery is lost.
const SubmitFailedMessage = "Falha ao enviar. Tente novamente."

var (
	ErrNotFound     = errors.New("session not found")
	ErrUnknownField = errors.New("unknown field")
	ErrLastStep     = errors.New("already at the last step")
	ErrSubmitFailed = errors.New("final delivery failed")
)

type DraftStore interface {
	GetDraft(ctx context.Context, sessionID string) (*models.LeadDraft, error)
	SaveDraft(ctx context.Context, d *models.LeadDraft) error
	DeleteDraft(ctx context.Context, sessionID string) error
}

type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) error
}

type Replayer interface {
	ReplayFailures(ctx context.Context) (delivery.ReplayResult, error)
}

type Dispatcher interface {
	Go(fn func(ctx context.Context))
}

type Tracker interface {
	Track(ctx context.Context, ev meta.Event)
}

type Deps struct {
	Store      DraftStore
	Claims     storage.Claims
	Deliverer  Deliverer
	Replayer   Replayer
	Dispatcher Dispatcher
	Tracker    Tracker
	Publisher  events.Publisher
}

// View is what a client needs to render the funnel.
type View struct {
	SessionID string         `json:"session_id"`
	Variant   string         `json:"variant"`
	Step      models.Step    `json:"step"`
	StepName  string         `json:"step_name"`
	Data      models.Draft   `json:"data"`
	Visible   []models.Field `json:"visible_fields"`
	Labels    []string       `json:"labels"`
	Delivered []models.Field `json:"delivered_fields"`
}

type SubmitResult struct {
	SubmittedSession string `json:"submitted_session"`
	Session          *View  `json:"session"`
}

const (
	sessionIdleTTL     = 30 * time.Minute
	sessionSweepAt     = 1024
	sessionSweepPeriod = time.Minute
)

type session struct {
	mu     sync.Mutex
	reveal *Reveal
	// settled holds the last value of each field that came through the
	// quiet period. Values restored from storage count as settled.
	settled  map[models.Field]string
	lastSeen time.Time
}

type Service struct {
	store      DraftStore
	claims     storage.Claims
	deliverer  Deliverer
	replayer   Replayer
	dispatch   Dispatcher
	tracker    Tracker
	publisher  events.Publisher
	variants   *Variants
	webhookURL string
	claimTTL   time.Duration
	pipeline   *Pipeline

	mu        sync.Mutex
	sessions  map[string]*session
	lastSweep time.Time

	now func() time.Time
	log zerolog.Logger
}

func NewService(cfg config.FunnelConfig, webhookURL string, deps Deps, log zerolog.Logger) *Service {
	s := &Service{
		store:      deps.Store,
		claims:     deps.Claims,
		deliverer:  deps.Deliverer,
		replayer:   deps.Replayer,
		dispatch:   deps.Dispatcher,
		tracker:    deps.Tracker,
		publisher:  deps.Publisher,
		variants:   NewVariants(cfg),
		webhookURL: webhookURL,
		claimTTL:   cfg.ClaimTTL,
		sessions:   make(map[string]*session),
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
	if s.claims == nil {
		s.claims = storage.NewMemoryClaims()
	}
	if s.tracker == nil {
		s.tracker = nopTracker{}
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	s.pipeline = NewPipeline(cfg.Debounce, func(ev FieldEvent) bool {
		return Settled(ev.Field, ev.Value)
	}, s.onSettled)
	return s
}

// Close stops pending debounce timers.
func (s *Service) Close() {
	s.pipeline.Close()
}

// Open loads the draft of sessionID or starts a new one, resumes it at the
// step its data allows and kicks off a replay of failed deliveries.
func (s *Service) Open(ctx context.Context, sessionID, variantName string) (*View, error) {
	if sessionID != "" {
		sess := s.acquire(sessionID)
		d, err := s.store.GetDraft(ctx, sessionID)
		if err != nil {
			sess.mu.Unlock()
			return nil, fmt.Errorf("load draft: %w", err)
		}
		if d != nil {
			defer sess.mu.Unlock()
			if variantName != "" {
				d.Variant = s.variants.Lookup(variantName).Name
			}
			return s.open(ctx, d, sess)
		}
		s.forget(sessionID)
		sess.mu.Unlock()
	}

	d := models.NewLeadDraft(s.variants.Lookup(variantName).Name, s.now())
	sess := s.acquire(d.SessionID)
	defer sess.mu.Unlock()
	return s.open(ctx, d, sess)
}

func (s *Service) open(ctx context.Context, d *models.LeadDraft, sess *session) (*View, error) {
	now := s.now()
	v := s.variants.Lookup(d.Variant)

	d.Step = InitialStep(d.Data)
	d.StepStartedAt = now
	d.UpdatedAt = now
	if err := s.store.SaveDraft(ctx, d); err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}
	sess.reveal = restoreReveal(v.Mode, d)
	sess.settled = settledFromDraft(d)

	// Timers pending when the draft was last touched are gone.
	log := s.log.With().Str("session_id", d.SessionID).Logger()
	if err := s.deliverPending(ctx, d, sess, v, log); err != nil {
		return nil, err
	}

	if s.replayer != nil {
		s.dispatch.Go(func(ctx context.Context) {
			if _, err := s.replayer.ReplayFailures(ctx); err != nil {
				s.log.Error().Err(err).Msg("replay on open failed")
			}
		})
	}

	s.tracker.Track(ctx, meta.InitiateCheckout(v.Source))
	s.tracker.Track(ctx, meta.StepStart(int(d.Step), StepName(d.Step), v.Source))

	s.log.Info().
		Str("session_id", d.SessionID).
		Str("variant", v.Name).
		Int("step", int(d.Step)).
		Msg("funnel opened")
	return s.view(d, sess.reveal, v), nil
}

func (s *Service) Get(ctx context.Context, sessionID string) (*View, error) {
	var out *View
	err := s.withSession(ctx, sessionID, func(d *models.LeadDraft, r *Reveal, v Variant) error {
		out = s.view(d, r, v)
		return nil
	})
	return out, err
}

// SetField stores a value and feeds it to the debounce pipeline. Phone
// values are masked and UF values upper-cased on the way in.
func (s *Service) SetField(ctx context.Context, sessionID string, field models.Field, value string) (*View, error) {
	if StepOf(field) == 0 {
		return nil, ErrUnknownField
	}
	value = normalizeInput(field, value)

	var out *View
	err := s.withSession(ctx, sessionID, func(d *models.LeadDraft, r *Reveal, v Variant) error {
		now := s.now()
		d.Data.Set(field, value)
		d.UpdatedAt = now
		if err := s.store.SaveDraft(ctx, d); err != nil {
			return fmt.Errorf("save draft: %w", err)
		}
		s.pipeline.Push(FieldEvent{SessionID: d.SessionID, Field: field, Value: value, At: now})
		out = s.view(d, r, v)
		return nil
	})
	return out, err
}

// Focus reveals field right away when its predecessor in the current step
// is visible and already settled, without waiting for the quiet period.
func (s *Service) Focus(ctx context.Context, sessionID string, field models.Field) (*View, error) {
	if StepOf(field) == 0 {
		return nil, ErrUnknownField
	}

	var out *View
	err := s.withSession(ctx, sessionID, func(d *models.LeadDraft, r *Reveal, v Variant) error {
		if StepOf(field) == d.Step && !r.IsVisible(field) {
			if prev, ok := previousField(field, d.Step); ok && r.IsVisible(prev) && Settled(prev, d.Data.Get(prev)) {
				r.RevealNext(prev, d.Step)
			}
		}
		out = s.view(d, r, v)
		return nil
	})
	return out, err
}

// Next validates the current step and moves forward one step.
func (s *Service) Next(ctx context.Context, sessionID string) (*View, error) {
	var out *View
	err := s.lockSession(ctx, sessionID, func(d *models.LeadDraft, sess *session, v Variant) error {
		if d.Step >= models.StepQualification {
			return ErrLastStep
		}
		if d.Step == models.StepCompany {
			d.Data.UF = NormalizeUF(d.Data.UF)
			d.Data.City = NormalizeCity(d.Data.City)
		}
		if err := CheckStep(d.Data, d.Step); err != nil {
			return err
		}

		now := s.now()
		completed := d.Step
		d.Step++
		d.StepStartedAt = now
		d.UpdatedAt = now
		if err := s.store.SaveDraft(ctx, d); err != nil {
			return fmt.Errorf("save draft: %w", err)
		}
		sess.reveal = restoreReveal(v.Mode, d)

		s.tracker.Track(ctx, meta.StepComplete(int(completed), StepName(completed), v.Source))
		s.tracker.Track(ctx, meta.StepStart(int(d.Step), StepName(d.Step), v.Source))
		if err := s.deliverPending(ctx, d, sess, v, s.log.With().Str("session_id", d.SessionID).Logger()); err != nil {
			return err
		}
		out = s.view(d, sess.reveal, v)
		return nil
	})
	return out, err
}

// Back moves to the previous step. It is the only way the step decreases.
func (s *Service) Back(ctx context.Context, sessionID string) (*View, error) {
	var out *View
	err := s.lockSession(ctx, sessionID, func(d *models.LeadDraft, sess *session, v Variant) error {
		if d.Step > models.StepContact {
			now := s.now()
			d.Step--
			d.StepStartedAt = now
			d.UpdatedAt = now
			if err := s.store.SaveDraft(ctx, d); err != nil {
				return fmt.Errorf("save draft: %w", err)
			}
		}
		sess.reveal = restoreReveal(v.Mode, d)
		if err := s.deliverPending(ctx, d, sess, v, s.log.With().Str("session_id", d.SessionID).Logger()); err != nil {
			return err
		}
		out = s.view(d, sess.reveal, v)
		return nil
	})
	return out, err
}

// Submit validates the whole lead and delivers it. On success the draft
// is cleared and a new session starts. On failure the delivery is kept
// for replay, the draft stays, and the error wraps ErrSubmitFailed.
func (s *Service) Submit(ctx context.Context, sessionID string) (*SubmitResult, error) {
	var out *SubmitResult
	err := s.withSession(ctx, sessionID, func(d *models.LeadDraft, r *Reveal, v Variant) error {
		d.Data.UF = NormalizeUF(d.Data.UF)
		d.Data.City = NormalizeCity(d.Data.City)
		if err := ValidateLead(d.Data); err != nil {
			return err
		}

		now := s.now()
		req := delivery.Request{
			URL:      s.webhookURL,
			Payload:  finalPayload(d, v, now),
			Token:    "final_" + d.SessionID,
			Required: fieldNames(models.AllFields),
		}
		if err := s.deliverer.Deliver(ctx, req); err != nil {
			d.UpdatedAt = now
			if serr := s.store.SaveDraft(ctx, d); serr != nil {
				s.log.Error().Err(serr).Str("session_id", d.SessionID).Msg("failed to keep draft after failed submit")
			}
			s.log.Error().Err(err).Str("session_id", d.SessionID).Msg("final delivery failed")
			return fmt.Errorf("%w: %v", ErrSubmitFailed, err)
		}

		user := meta.LeadUser(d.Data.Name, d.Data.Email, d.Data.Phone, d.Data.City, d.Data.UF)
		gov := d.Data.SoldToGov == "sim"
		s.tracker.Track(ctx, meta.CompleteRegistration(user, d.Data.Billing, gov, d.Data.Pain, v.Source))
		s.tracker.Track(ctx, meta.Lead(user, d.Data.Billing, gov, d.Data.Pain, v.Source))
		s.publish(events.LeadEvent{
			Type:       events.TypeCompleteLead,
			SessionID:  d.SessionID,
			Step:       "final",
			Source:     v.Source,
			Token:      req.Token,
			Lead:       d.Data,
			OccurredAt: now,
		})

		next, err := s.restart(ctx, d, now)
		if err != nil {
			return err
		}
		s.log.Info().
			Str("session_id", d.SessionID).
			Str("next_session_id", next.SessionID).
			Msg("lead submitted")
		out = &SubmitResult{
			SubmittedSession: d.SessionID,
			Session:          s.view(next, NewReveal(v.Mode, next.Step), v),
		}
		return nil
	})
	return out, err
}

// Reset discards the draft and starts a new session with the same variant.
func (s *Service) Reset(ctx context.Context, sessionID string) (*View, error) {
	var out *View
	err := s.withSession(ctx, sessionID, func(d *models.LeadDraft, r *Reveal, v Variant) error {
		next, err := s.restart(ctx, d, s.now())
		if err != nil {
			return err
		}
		out = s.view(next, NewReveal(v.Mode, next.Step), v)
		return nil
	})
	return out, err
}

// Abandon records that the user left the funnel. The draft is kept so the
// next Open resumes it. Nothing is reported once the last step is reached.
func (s *Service) Abandon(ctx context.Context, sessionID string) error {
	return s.withSession(ctx, sessionID, func(d *models.LeadDraft, r *Reveal, v Variant) error {
		// The draft stays stored and the session state is rebuilt on next use.
		defer s.forget(d.SessionID)
		if d.Step >= models.StepQualification {
			return nil
		}
		spent := int(s.now().Sub(d.StepStartedAt).Seconds())
		s.tracker.Track(ctx, meta.StepAbandoned(int(d.Step), StepName(d.Step), string(r.Last()), spent, v.Source))
		s.log.Info().
			Str("session_id", d.SessionID).
			Int("step", int(d.Step)).
			Str("last_field", string(r.Last())).
			Msg("funnel abandoned")
		return nil
	})
}

// onSettled runs when a field value survived the quiet period. It reveals
// the next field and fires, at most once per field and session, every
// partial delivery of the current step that has become due.
func (s *Service) onSettled(ev FieldEvent) {
	ctx := context.Background()
	log := s.log.With().Str("session_id", ev.SessionID).Str("field", string(ev.Field)).Logger()

	err := s.lockSession(ctx, ev.SessionID, func(d *models.LeadDraft, sess *session, v Variant) error {
		if d.Data.Get(ev.Field) != ev.Value {
			return nil
		}
		sess.settled[ev.Field] = ev.Value

		step := StepOf(ev.Field)
		if d.Step != step {
			return nil
		}
		r := sess.reveal
		if r.IsVisible(ev.Field) {
			if next, ok := r.RevealNext(ev.Field, step); ok {
				log.Debug().Str("revealed", string(next)).Msg("field revealed")
			} else if IsLastFieldInStep(ev.Field, step) {
				log.Debug().Int("step", int(step)).Msg("last field of step settled")
			}
		}
		return s.deliverPending(ctx, d, sess, v, log)
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		log.Error().Err(err).Msg("settled field handling failed")
	}
}

// deliverPending fires a partial delivery for every critical field of the
// current step whose own value has settled, whose predecessors are filled
// and which was not delivered yet. The caller holds the session lock.
func (s *Service) deliverPending(ctx context.Context, d *models.LeadDraft, sess *session, v Variant, log zerolog.Logger) error {
	var due []models.Field
	marked := false
	for _, f := range FieldsForStep(d.Step) {
		if !IsCriticalField(f) || d.HasDelivered(f) {
			continue
		}
		value := d.Data.Get(f)
		if settled, ok := sess.settled[f]; !ok || settled != value || !ShouldDeliver(d.Data, f) {
			continue
		}

		claimed, err := s.claims.Claim(ctx, "delivered:"+d.SessionID+":"+string(f), s.claimTTL)
		if err != nil {
			log.Warn().Err(err).Str("due", string(f)).Msg("delivery claim unavailable, relying on draft state")
			claimed = true
		}
		d.MarkDelivered(f)
		marked = true
		if !claimed {
			log.Debug().Str("due", string(f)).Msg("partial delivery already claimed")
			continue
		}
		due = append(due, f)
	}
	if !marked {
		return nil
	}

	if d.Step > d.LastPartialStep {
		d.LastPartialStep = d.Step
	}
	if err := s.store.SaveDraft(ctx, d); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	for _, f := range due {
		s.sendPartial(ctx, d, v, f)
	}
	return nil
}

func (s *Service) sendPartial(ctx context.Context, d *models.LeadDraft, v Variant, field models.Field) {
	now := s.now()
	required, _ := Predecessors(field)
	req := delivery.Request{
		URL:      s.webhookURL,
		Payload:  partialPayload(d, v, field, now),
		Token:    fmt.Sprintf("partial_%s_%s_%d", d.SessionID, field, now.UnixMilli()),
		Required: fieldNames(required),
	}
	lead := d.Data
	sessionID := d.SessionID
	step := StepName(d.Step)

	user := meta.LeadUser(lead.Name, lead.Email, lead.Phone, lead.City, lead.UF)
	if value, ok := meta.PartialValue(string(field)); ok {
		s.tracker.Track(ctx, meta.PartialSubmit(string(field), value, user))
	}
	if field == models.FieldSoldToGov {
		s.tracker.Track(ctx, meta.QualifiedLead(lead.Billing, lead.SoldToGov == "sim", user, v.Source))
	}

	s.dispatch.Go(func(ctx context.Context) {
		if err := s.deliverer.Deliver(ctx, req); err != nil {
			s.log.Warn().Err(err).Str("session_id", sessionID).Str("field", string(field)).Msg("partial delivery failed")
			return
		}
		s.publish(events.LeadEvent{
			Type:       events.TypePartialLead,
			SessionID:  sessionID,
			Field:      field,
			Step:       step,
			Source:     v.Source,
			Token:      req.Token,
			Lead:       lead,
			OccurredAt: now,
		})
	})
}

func (s *Service) publish(ev events.LeadEvent) {
	s.dispatch.Go(func(ctx context.Context) {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.log.Warn().Err(err).Str("session_id", ev.SessionID).Str("type", ev.Type).Msg("lead event not published")
		}
	})
}

// restart deletes d and stores a fresh draft with the same variant.
func (s *Service) restart(ctx context.Context, d *models.LeadDraft, now time.Time) (*models.LeadDraft, error) {
	if err := s.store.DeleteDraft(ctx, d.SessionID); err != nil {
		return nil, fmt.Errorf("delete draft: %w", err)
	}
	s.pipeline.Cancel(d.SessionID)
	s.forget(d.SessionID)

	next := models.NewLeadDraft(d.Variant, now)
	if err := s.store.SaveDraft(ctx, next); err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}
	return next, nil
}

func (s *Service) withSession(ctx context.Context, sessionID string, fn func(d *models.LeadDraft, r *Reveal, v Variant) error) error {
	return s.lockSession(ctx, sessionID, func(d *models.LeadDraft, sess *session, v Variant) error {
		return fn(d, sess.reveal, v)
	})
}

// lockSession loads the draft under the session lock, rebuilding the
// in-memory state when the session was evicted or never seen.
func (s *Service) lockSession(ctx context.Context, sessionID string, fn func(d *models.LeadDraft, sess *session, v Variant) error) error {
	sess := s.acquire(sessionID)
	defer sess.mu.Unlock()

	d, err := s.store.GetDraft(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load draft: %w", err)
	}
	if d == nil {
		s.forget(sessionID)
		return ErrNotFound
	}
	v := s.variants.Lookup(d.Variant)
	if sess.reveal == nil {
		sess.reveal = restoreReveal(v.Mode, d)
		sess.settled = settledFromDraft(d)
	}
	return fn(d, sess, v)
}

// acquire returns the locked session entry of id. Entries are only removed
// by a goroutine holding their lock, so an entry still mapped after
// locking stays valid until it is unlocked.
func (s *Service) acquire(id string) *session {
	for {
		sess := s.session(id)
		sess.mu.Lock()
		s.mu.Lock()
		current := s.sessions[id] == sess
		s.mu.Unlock()
		if current {
			sess.lastSeen = s.now()
			return sess
		}
		sess.mu.Unlock()
	}
}

func (s *Service) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if len(s.sessions) >= sessionSweepAt && now.Sub(s.lastSweep) >= sessionSweepPeriod {
		s.evictIdleLocked(now)
	}
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{}
		s.sessions[id] = sess
	}
	return sess
}

// evictIdleLocked drops entries unused for sessionIdleTTL. Busy entries
// are skipped. s.mu must be held.
func (s *Service) evictIdleLocked(now time.Time) {
	s.lastSweep = now
	for id, sess := range s.sessions {
		if !sess.mu.TryLock() {
			continue
		}
		if !sess.lastSeen.IsZero() && now.Sub(sess.lastSeen) >= sessionIdleTTL {
			delete(s.sessions, id)
		}
		sess.mu.Unlock()
	}
}

// forget drops the entry of id. The caller holds its lock.
func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Service) view(d *models.LeadDraft, r *Reveal, v Variant) *View {
	delivered := make([]models.Field, len(d.Delivered))
	copy(delivered, d.Delivered)
	visible := r.Visible()
	labels := make([]string, len(visible))
	for i, f := range visible {
		labels[i] = FieldLabel(f)
	}
	return &View{
		SessionID: d.SessionID,
		Variant:   v.Name,
		Step:      d.Step,
		StepName:  StepName(d.Step),
		Data:      d.Data,
		Visible:   visible,
		Labels:    labels,
		Delivered: delivered,
	}
}

// restoreReveal rebuilds the visible set of d's step: the first field plus
// every field whose predecessors already hold settled values.
func restoreReveal(mode Mode, d *models.LeadDraft) *Reveal {
	r := NewReveal(mode, d.Step)
	for _, f := range fieldOrder[d.Step] {
		if !Settled(f, d.Data.Get(f)) {
			break
		}
		r.RevealNext(f, d.Step)
	}
	return r
}

func settledFromDraft(d *models.LeadDraft) map[models.Field]string {
	settled := make(map[models.Field]string, len(models.AllFields))
	for _, f := range models.AllFields {
		if v := d.Data.Get(f); v != "" {
			settled[f] = v
		}
	}
	return settled
}

func previousField(field models.Field, step models.Step) (models.Field, bool) {
	fields := fieldOrder[step]
	for i, f := range fields {
		if f == field && i > 0 {
			return fields[i-1], true
		}
	}
	return "", false
}

func normalizeInput(field models.Field, value string) string {
	switch field {
	case models.FieldPhone:
		return FormatPhone(value)
	case models.FieldUF:
		return NormalizeUF(value)
	}
	return value
}

type nopTracker struct{}

func (nopTracker) Track(context.Context, meta.Event) {}
