package engine

import (
	"context"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-analytics/internal/models"
	"github.com/miradorstack/mirador-analytics/internal/query"
	"github.com/miradorstack/mirador-analytics/internal/utils"
)

// StableBand is the largest |changePct| still reported as stable.
const StableBand = 1.0

const previousLookupLimit = 8

// TrendService reports the latest value of metrics with their change against the preceding point.
type TrendService struct {
	logger   *slog.Logger
	builder  *query.Builder
	executor *query.Executor
}

// NewTrendService constructs a realtime trend service.
func NewTrendService(logger *slog.Logger, builder *query.Builder, executor *query.Executor) *TrendService {
	if logger == nil {
		logger = slog.Default()
	}
	if builder == nil {
		builder = query.NewBuilder()
	}
	return &TrendService{logger: logger, builder: builder, executor: executor}
}

// ChangePct returns the percent change from previous to current, or 0 when previous is 0.
func ChangePct(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

// Classify maps a percent change onto a trend.
func Classify(changePct float64) models.Trend {
	switch {
	case math.Abs(changePct) <= StableBand:
		return models.TrendStable
	case changePct > 0:
		return models.TrendUp
	default:
		return models.TrendDown
	}
}

// Realtime returns one value per requested metric that has any points, in request order.
func (s *TrendService) Realtime(ctx context.Context, names []string) ([]models.RealtimeMetricValue, error) {
	names = uniqueNonEmpty(names)
	if len(names) == 0 {
		return []models.RealtimeMetricValue{}, nil
	}

	latest, err := s.executor.Latest(ctx, s.builder.Latest(names))
	if err != nil {
		return nil, err
	}
	byName := make(map[string]models.MetricPoint, len(latest))
	for _, p := range latest {
		byName[p.Metric] = p
	}

	values := make([]models.RealtimeMetricValue, len(names))
	found := make([]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(previousLookupLimit)
	for i, name := range names {
		i, name := i, name
		current, ok := byName[name]
		if !ok {
			continue
		}
		found[i] = true
		g.Go(func() error {
			prev, hasPrev, err := s.executor.Previous(gctx, name, s.builder.Previous(name, current.Timestamp))
			if err != nil {
				return err
			}
			change := 0.0
			if hasPrev {
				change = ChangePct(current.Value, prev.Value)
			}
			change = utils.Round2(change)
			values[i] = models.RealtimeMetricValue{
				Name:      name,
				Value:     utils.Round2(current.Value),
				Timestamp: current.Timestamp,
				ChangePct: change,
				Trend:     Classify(change),
				Unit:      current.Unit,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.RealtimeMetricValue, 0, len(names))
	for i := range names {
		if found[i] {
			out = append(out, values[i])
		}
	}
	s.logger.Debug("realtime metrics resolved", slog.Int("requested", len(names)), slog.Int("found", len(out)))
	return out, nil
}

func uniqueNonEmpty(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
