package storage

import (
	"context"

	"github.com/nla-consultoria/leadrelay/internal/models"
)

type Storage interface {
	// Drafts
	GetDraft(ctx context.Context, sessionID string) (*models.LeadDraft, error)
	SaveDraft(ctx context.Context, d *models.LeadDraft) error
	DeleteDraft(ctx context.Context, sessionID string) error

	// Failed deliveries
	AppendFailure(ctx context.Context, f *models.FailedDelivery) error
	ListFailures(ctx context.Context) ([]models.FailedDelivery, error)
	DeleteFailures(ctx context.Context, ids []string) error

	// Attempts
	CreateAttempt(ctx context.Context, a *models.Attempt) error
	GetAttemptsByToken(ctx context.Context, token string) ([]models.Attempt, error)

	// Stats
	GetStats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	OpenDrafts        int64   `json:"open_drafts"`
	TotalAttempts     int64   `json:"total_attempts"`
	SuccessCount      int64   `json:"success_count"`
	RetryingCount     int64   `json:"retrying_count"`
	ExhaustedCount    int64   `json:"exhausted_count"`
	PendingFailures   int64   `json:"pending_failures"`
	SuccessRate       float64 `json:"success_rate"`
	PartialDeliveries int64   `json:"partial_deliveries"`
	FinalDeliveries   int64   `json:"final_deliveries"`
}
