package query

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/miradorstack/mirador-analytics/internal/models"
	"github.com/miradorstack/mirador-analytics/internal/repo"
	"github.com/miradorstack/mirador-analytics/internal/utils"
)

var palette = []string{
	"#3b82f6", "#10b981", "#f59e0b", "#ef4444",
	"#8b5cf6", "#06b6d4", "#ec4899", "#84cc16",
}

// ColorHint maps a series name to a stable palette colour.
func ColorHint(name string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Executor runs statements against the store and maps rows into typed results.
// Store failures are wrapped as ErrStoreExecution and never retried.
type Executor struct {
	store  repo.Store
	logger *slog.Logger
}

// NewExecutor wires an executor to store.
func NewExecutor(store repo.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, logger: logger}
}

func (e *Executor) run(ctx context.Context, op string, stmt repo.Statement) ([]repo.Row, error) {
	if e.store == nil {
		return nil, utils.StoreExecution(op, fmt.Errorf("store not configured"))
	}
	rows, err := e.store.Execute(ctx, stmt)
	if err != nil {
		return nil, utils.StoreExecution(op, err)
	}
	return rows, nil
}

// TimeSeries executes a bucketed statement. Rows are (bucket, value, samples).
// Points come back strictly ascending; a repeated bucket keeps its first row.
func (e *Executor) TimeSeries(ctx context.Context, q models.OptimizedQuery, stmt repo.Statement) (models.TimeSeriesResult, error) {
	const op = "execute_timeseries"
	rows, err := e.run(ctx, op, stmt)
	if err != nil {
		return models.TimeSeriesResult{}, err
	}

	points := make([]models.DataPoint, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return models.TimeSeriesResult{}, utils.MalformedResult(op, fmt.Sprintf("row %d has %d columns, want at least 2", i, len(row)))
		}
		ts, err := toTime(row[0])
		if err != nil {
			return models.TimeSeriesResult{}, utils.MalformedResult(op, fmt.Sprintf("row %d bucket: %v", i, err))
		}
		value, err := toFloat(row[1])
		if err != nil {
			return models.TimeSeriesResult{}, utils.MalformedResult(op, fmt.Sprintf("row %d value: %v", i, err))
		}
		meta := models.PointMetadata{Path: pathLabel(q.UsesRollup)}
		if len(row) > 2 {
			if samples, err := toFloat(row[2]); err == nil {
				meta.Samples = int64(samples)
			}
		}
		points = append(points, models.DataPoint{Timestamp: ts, Value: value, Metadata: meta})
	}

	return models.TimeSeriesResult{
		Name:      q.Metric,
		Points:    normalisePoints(points),
		ColorHint: ColorHint(q.Metric),
	}, nil
}

func pathLabel(rollup bool) string {
	if rollup {
		return models.PathRollup
	}
	return models.PathRaw
}

func normalisePoints(points []models.DataPoint) []models.DataPoint {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	out := points[:0]
	for _, p := range points {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(p.Timestamp) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Aggregation executes an aggregation statement. Rows are (g0..gN, value, samples).
// Without grouping an empty result set yields a single zero value.
func (e *Executor) Aggregation(ctx context.Context, q models.OptimizedQuery, stmt repo.Statement) ([]models.AggregationResult, error) {
	const op = "execute_aggregation"
	rows, err := e.run(ctx, op, stmt)
	if err != nil {
		return nil, err
	}

	at := q.TimeRange.End.UTC()
	if len(q.GroupBy) == 0 && len(rows) == 0 {
		return []models.AggregationResult{{Metric: q.Metric, AggregationType: q.Aggregation, Value: 0, Timestamp: at}}, nil
	}

	groups := len(q.GroupBy)
	out := make([]models.AggregationResult, 0, len(rows))
	for i, row := range rows {
		if len(row) < groups+1 {
			return nil, utils.MalformedResult(op, fmt.Sprintf("row %d has %d columns, want at least %d", i, len(row), groups+1))
		}
		value, err := toFloat(row[groups])
		if err != nil {
			return nil, utils.MalformedResult(op, fmt.Sprintf("row %d value: %v", i, err))
		}
		res := models.AggregationResult{
			Metric:          q.Metric,
			AggregationType: q.Aggregation,
			Value:           value,
			Timestamp:       at,
		}
		if groups > 0 {
			res.Dimensions = make(map[string]string, groups)
			for g, field := range q.GroupBy {
				res.Dimensions[field] = groupValue(row[g])
			}
		}
		out = append(out, res)
	}
	return out, nil
}

// Latest executes a latest-per-metric statement. Rows are (name, value, timestamp, unit).
func (e *Executor) Latest(ctx context.Context, stmt repo.Statement) ([]models.MetricPoint, error) {
	const op = "execute_latest"
	rows, err := e.run(ctx, op, stmt)
	if err != nil {
		return nil, err
	}
	out := make([]models.MetricPoint, 0, len(rows))
	for i, row := range rows {
		if len(row) < 3 {
			return nil, utils.MalformedResult(op, fmt.Sprintf("row %d has %d columns, want at least 3", i, len(row)))
		}
		p, err := mapPoint(row[0], row[1], row[2])
		if err != nil {
			return nil, utils.MalformedResult(op, fmt.Sprintf("row %d: %v", i, err))
		}
		if len(row) > 3 && row[3] != nil {
			p.Unit = fmt.Sprint(row[3])
		}
		out = append(out, p)
	}
	return out, nil
}

// Previous executes a previous-point statement. Rows are (value, timestamp); ok is false when empty.
func (e *Executor) Previous(ctx context.Context, metric string, stmt repo.Statement) (models.MetricPoint, bool, error) {
	const op = "execute_previous"
	rows, err := e.run(ctx, op, stmt)
	if err != nil {
		return models.MetricPoint{}, false, err
	}
	if len(rows) == 0 {
		return models.MetricPoint{}, false, nil
	}
	row := rows[0]
	if len(row) < 2 {
		return models.MetricPoint{}, false, utils.MalformedResult(op, fmt.Sprintf("row has %d columns, want 2", len(row)))
	}
	p, err := mapPoint(metric, row[0], row[1])
	if err != nil {
		return models.MetricPoint{}, false, utils.MalformedResult(op, err.Error())
	}
	return p, true, nil
}

// Points executes an anomaly window statement. Rows are (name, value, timestamp).
func (e *Executor) Points(ctx context.Context, stmt repo.Statement) ([]models.MetricPoint, error) {
	const op = "execute_points"
	rows, err := e.run(ctx, op, stmt)
	if err != nil {
		return nil, err
	}
	out := make([]models.MetricPoint, 0, len(rows))
	for i, row := range rows {
		if len(row) < 3 {
			return nil, utils.MalformedResult(op, fmt.Sprintf("row %d has %d columns, want 3", i, len(row)))
		}
		p, err := mapPoint(row[0], row[1], row[2])
		if err != nil {
			return nil, utils.MalformedResult(op, fmt.Sprintf("row %d: %v", i, err))
		}
		out = append(out, p)
	}
	return out, nil
}

func mapPoint(name, value, ts any) (models.MetricPoint, error) {
	metric, ok := name.(string)
	if !ok || metric == "" {
		return models.MetricPoint{}, fmt.Errorf("metric name %v is not a string", name)
	}
	v, err := toFloat(value)
	if err != nil {
		return models.MetricPoint{}, err
	}
	t, err := toTime(ts)
	if err != nil {
		return models.MetricPoint{}, err
	}
	return models.MetricPoint{Metric: metric, Value: v, Timestamp: t}, nil
}

// toFloat converts a numeric column. NULL maps to zero.
func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case float64:
		if math.IsNaN(x) {
			return 0, nil
		}
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("unsupported numeric type %T", v)
}

// groupValue renders a group column as text so fresh and cached results agree.
func groupValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int, int32, int64, bool:
		return fmt.Sprint(x)
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		t, err := utils.ParseRFC3339(x)
		return t.UTC(), err
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
}
