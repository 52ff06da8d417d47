package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Service provides cached access to revenue and occupancy aggregates.
type Service struct {
	Q            Querier
	R            *redis.Client
	TTL          time.Duration
	DefaultRange int
	Now          func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func cacheKey(parts ...any) string {
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

// RevenueRange returns daily revenue between the provided bounds, inclusive of
// from and exclusive of to.
func (s *Service) RevenueRange(ctx context.Context, orgID string, from, to time.Time) ([]RevenueDay, error) {
	if s == nil || s.Q == nil {
		return nil, fmt.Errorf("analytics service not configured")
	}
	key := cacheKey("an", orgID, "revenue", from.Format("2006-01-02"), to.Format("2006-01-02"))
	if rows, ok := fromCache[[]RevenueDay](ctx, s, key); ok {
		return rows, nil
	}
	rows, err := s.Q.GetRevenueDailyRange(ctx, orgID, from, to)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, rows)
	return rows, nil
}

// TopUnits returns paginated units ordered by collected revenue.
func (s *Service) TopUnits(ctx context.Context, orgID string, limit, offset int) ([]UnitRevenue, error) {
	if s == nil || s.Q == nil {
		return nil, fmt.Errorf("analytics service not configured")
	}
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	key := cacheKey("an", orgID, "top", limit, offset)
	if rows, ok := fromCache[[]UnitRevenue](ctx, s, key); ok {
		return rows, nil
	}
	rows, err := s.Q.GetTopUnits(ctx, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, rows)
	return rows, nil
}

// PortfolioOverview returns occupancy and receivable aggregates for dashboards.
func (s *Service) PortfolioOverview(ctx context.Context, orgID string) (Overview, error) {
	if s == nil || s.Q == nil {
		return Overview{}, fmt.Errorf("analytics service not configured")
	}
	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	key := cacheKey("an", orgID, "overview", monthStart.Format("2006-01"))
	if ov, ok := fromCache[Overview](ctx, s, key); ok {
		return ov, nil
	}
	ov, err := s.Q.GetOverview(ctx, orgID, monthStart)
	if err != nil {
		return Overview{}, err
	}
	s.store(ctx, key, ov)
	return ov, nil
}

func fromCache[T any](ctx context.Context, s *Service, key string) (T, bool) {
	var zero T
	if s.R == nil || s.TTL <= 0 {
		return zero, false
	}
	data, err := s.R.Get(ctx, key).Bytes()
	if err != nil {
		return zero, false
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return zero, false
	}
	return value, true
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if s.R == nil || s.TTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = s.R.Set(ctx, key, data, s.TTL).Err()
}
