package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nla-consultoria/leadrelay/internal/config"
)

var ErrDisabled = errors.New("conversions api not configured")

// Client posts events to the Graph API Conversions endpoint. Without a
// pixel id and access token it is disabled and Send does nothing.
type Client struct {
	http          *http.Client
	baseURL       string
	apiVersion    string
	pixelID       string
	accessToken   string
	testEventCode string
	log           zerolog.Logger
}

func NewClient(cfg config.MetaConfig, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:          &http.Client{Timeout: timeout},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion:    cfg.APIVersion,
		pixelID:       cfg.PixelID,
		accessToken:   cfg.AccessToken,
		testEventCode: cfg.TestEventCode,
		log:           log,
	}
}

func (c *Client) Enabled() bool {
	return c.pixelID != "" && c.accessToken != ""
}

type eventsRequest struct {
	Data          []serverEvent `json:"data"`
	TestEventCode string        `json:"test_event_code,omitempty"`
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/%s/%s/events?access_token=%s",
		c.baseURL, c.apiVersion, url.PathEscape(c.pixelID), url.QueryEscape(c.accessToken))
}

// Send forwards one event. A disabled client returns nil.
func (c *Client) Send(ctx context.Context, ev Event) error {
	if !c.Enabled() {
		return nil
	}

	body, err := json.Marshal(eventsRequest{
		Data:          []serverEvent{ev.wire()},
		TestEventCode: c.testEventCode,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send event %s: %w", ev.Name, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("conversions api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	c.log.Debug().
		Str("event", ev.Name).
		Str("event_id", ev.ID).
		Msg("conversion event sent")
	return nil
}
