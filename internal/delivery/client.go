package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nla-consultoria/leadrelay/internal/models"
)

// ErrIncompletePayload means a required key was absent or blank. Nothing
// was sent; retrying will not help.
var ErrIncompletePayload = errors.New("payload missing required fields")

type ExhaustedError struct {
	Token    string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("delivery %s failed after %d attempts: %v", e.Token, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Request is one logical delivery. Token is embedded in the body as
// event_id and stays the same across every retry.
type Request struct {
	URL      string
	Payload  map[string]interface{}
	Token    string
	Required []string
}

type AttemptRecorder interface {
	CreateAttempt(ctx context.Context, a *models.Attempt) error
}

type Retrier interface {
	SendWithRetry(ctx context.Context, req Request) error
}

type Client struct {
	sender      *Sender
	attempts    AttemptRecorder
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	log         zerolog.Logger
}

func NewClient(sender *Sender, attempts AttemptRecorder, maxAttempts int, baseDelay time.Duration, log zerolog.Logger) *Client {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return &Client{
		sender:      sender,
		attempts:    attempts,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		sleep:       sleepContext,
		log:         log,
	}
}

func (c *Client) SendWithRetry(ctx context.Context, req Request) error {
	if missing := MissingFields(req.Payload, req.Required); len(missing) > 0 {
		c.log.Error().
			Str("token", req.Token).
			Strs("missing", missing).
			Msg("refusing to send incomplete payload")
		return fmt.Errorf("%w: %s", ErrIncompletePayload, strings.Join(missing, ", "))
	}

	body, err := encodeBody(req)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, Backoff(c.baseDelay, attempt-1)); err != nil {
				return &ExhaustedError{Token: req.Token, Attempts: attempt, Err: err}
			}
		}

		result := c.sender.Send(ctx, req.URL, req.Token, body)
		last := attempt == c.maxAttempts-1
		c.record(ctx, req, attempt+1, result, last)

		if result.OK() {
			c.log.Info().
				Str("token", req.Token).
				Int("attempt", attempt+1).
				Int("status_code", result.StatusCode).
				Int64("latency_ms", result.LatencyMs).
				Msg("delivery succeeded")
			return nil
		}

		lastErr = result.Err()
		c.log.Warn().
			Str("token", req.Token).
			Int("attempt", attempt+1).
			Err(lastErr).
			Msg("delivery attempt failed")
	}

	return &ExhaustedError{Token: req.Token, Attempts: c.maxAttempts, Err: lastErr}
}

func (c *Client) record(ctx context.Context, req Request, n int, result *SendResult, last bool) {
	if c.attempts == nil {
		return
	}
	status := models.DeliverySuccess
	if !result.OK() {
		status = models.DeliveryRetrying
		if last {
			status = models.DeliveryExhausted
		}
	}
	a := &models.Attempt{
		ID:            models.NewID("att"),
		Token:         req.Token,
		URL:           req.URL,
		AttemptNumber: n,
		Status:        status,
		StatusCode:    result.StatusCode,
		ResponseBody:  result.ResponseBody,
		LatencyMs:     result.LatencyMs,
		Error:         result.Error,
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.attempts.CreateAttempt(ctx, a); err != nil {
		c.log.Error().Err(err).Str("token", req.Token).Msg("failed to record attempt")
	}
}

// MissingFields lists required keys that are absent, nil or blank strings.
func MissingFields(payload map[string]interface{}, required []string) []string {
	var missing []string
	for _, key := range required {
		v, ok := payload[key]
		if !ok || v == nil {
			missing = append(missing, key)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

func encodeBody(req Request) ([]byte, error) {
	body := make(map[string]interface{}, len(req.Payload)+1)
	for k, v := range req.Payload {
		body[k] = v
	}
	if req.Token != "" {
		body["event_id"] = req.Token
	}
	return json.Marshal(body)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
