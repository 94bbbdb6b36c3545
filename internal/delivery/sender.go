package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nla-consultoria/leadrelay/internal/signing"
)

type SendResult struct {
	StatusCode   int
	ResponseBody string
	LatencyMs    int64
	Error        string
}

func (r *SendResult) OK() bool {
	return r.Error == "" && IsSuccess(r.StatusCode)
}

func (r *SendResult) Err() error {
	if r.Error != "" {
		return errors.New(r.Error)
	}
	if !IsSuccess(r.StatusCode) {
		return fmt.Errorf("unexpected status %d", r.StatusCode)
	}
	return nil
}

type Sender struct {
	client *http.Client
	secret string
}

func NewSender(timeout time.Duration, secret string) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
		},
		secret: secret,
	}
}

func (s *Sender) Send(ctx context.Context, url, token string, payload []byte) *SendResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &SendResult{
			Error:     fmt.Sprintf("failed to create request: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "leadrelay/1.0")
	req.Header.Set("X-Leadrelay-ID", token)
	if signature, timestamp := signing.Sign(s.secret, payload); signature != "" {
		req.Header.Set("X-Leadrelay-Timestamp", fmt.Sprintf("%d", timestamp))
		req.Header.Set("X-Leadrelay-Signature", signature)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendResult{
			Error:     fmt.Sprintf("request failed: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	return &SendResult{
		StatusCode:   resp.StatusCode,
		ResponseBody: string(body),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
}
