package meta

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nla-consultoria/leadrelay/internal/storage"
)

// PageViews lets exactly one PageView through per page load id.
type PageViews struct {
	claims storage.Claims
	ttl    time.Duration
	log    zerolog.Logger
}

func NewPageViews(claims storage.Claims, ttl time.Duration, log zerolog.Logger) *PageViews {
	return &PageViews{claims: claims, ttl: ttl, log: log}
}

// First reports whether this is the first PageView for pageLoadID. An
// empty id is never deduplicated. Claim errors let the event through.
func (p *PageViews) First(ctx context.Context, pageLoadID string) bool {
	if pageLoadID == "" {
		return true
	}
	ok, err := p.claims.Claim(ctx, "pageview:"+pageLoadID, p.ttl)
	if err != nil {
		p.log.Warn().Err(err).Str("page_load_id", pageLoadID).Msg("page view claim failed")
		return true
	}
	return ok
}
