package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-analytics/internal/models"
	"github.com/miradorstack/mirador-analytics/internal/utils"
)

// Analytics is the operation set served by the AnalyticsEngine gRPC service.
type Analytics interface {
	QueryTimeSeries(ctx context.Context, metric string, r models.TimeRange, g models.Granularity, filters ...models.FilterCondition) (models.TimeSeriesResult, error)
	QueryAggregation(ctx context.Context, metric string, agg models.Aggregation, groupBy []string, filters ...models.FilterCondition) ([]models.AggregationResult, error)
	QueryAggregationInRange(ctx context.Context, metric string, agg models.Aggregation, r models.TimeRange, groupBy []string, filters ...models.FilterCondition) ([]models.AggregationResult, error)
	QueryRealtimeMetrics(ctx context.Context, names []string) ([]models.RealtimeMetricValue, error)
	DetectAnomalies(ctx context.Context, r models.TimeRange, tenantID string) ([]models.Anomaly, error)
	GetAlertHealth(ctx context.Context, alertID string) (models.AlertHealthReport, error)
	GetAlertTrends(ctx context.Context, alertID string, r models.TimeRange, g models.TrendGranularity) (models.AlertTrends, error)
	GetSystemAlertStats(ctx context.Context, r models.TimeRange) (models.AlertStatsRollup, error)
	GetUserAlertStats(ctx context.Context, userID string, r models.TimeRange) (models.AlertStatsRollup, error)
}

// request is the JSON shape carried in a google.protobuf.Struct request body.
type request struct {
	Metric      string                   `json:"metric"`
	Metrics     []string                 `json:"metrics"`
	Aggregation models.Aggregation       `json:"aggregation"`
	TimeRange   *models.TimeRange        `json:"time_range"`
	Granularity string                   `json:"granularity"`
	Filters     []models.FilterCondition `json:"filters"`
	GroupBy     []string                 `json:"group_by"`
	TenantID    string                   `json:"tenant_id"`
	AlertID     string                   `json:"alert_id"`
	UserID      string                   `json:"user_id"`
}

func (r request) requireRange() (models.TimeRange, error) {
	if r.TimeRange == nil {
		return models.TimeRange{}, utils.InvalidQuery("decode_request", "time_range is required")
	}
	return *r.TimeRange, nil
}

// filters appends the tenant scope, when given, as an eq filter on tenant_id.
func (r request) filters() []models.FilterCondition {
	if r.TenantID == "" {
		return r.Filters
	}
	return append(r.Filters, models.FilterCondition{Field: "tenant_id", Operator: models.OperatorEq, Value: r.TenantID})
}

type call func(ctx context.Context, svc Analytics, req request) (any, error)

type method struct {
	name string
	fn   call
}

var methods = []method{
	{"QueryTimeSeries", func(ctx context.Context, svc Analytics, req request) (any, error) {
		r, err := req.requireRange()
		if err != nil {
			return nil, err
		}
		return svc.QueryTimeSeries(ctx, req.Metric, r, models.Granularity(req.Granularity), req.filters()...)
	}},
	{"QueryAggregation", func(ctx context.Context, svc Analytics, req request) (any, error) {
		if req.TimeRange == nil {
			return svc.QueryAggregation(ctx, req.Metric, req.Aggregation, req.GroupBy, req.filters()...)
		}
		return svc.QueryAggregationInRange(ctx, req.Metric, req.Aggregation, *req.TimeRange, req.GroupBy, req.filters()...)
	}},
	{"QueryRealtimeMetrics", func(ctx context.Context, svc Analytics, req request) (any, error) {
		return svc.QueryRealtimeMetrics(ctx, req.Metrics)
	}},
	{"DetectAnomalies", func(ctx context.Context, svc Analytics, req request) (any, error) {
		r, err := req.requireRange()
		if err != nil {
			return nil, err
		}
		return svc.DetectAnomalies(ctx, r, req.TenantID)
	}},
	{"GetAlertHealth", func(ctx context.Context, svc Analytics, req request) (any, error) {
		return svc.GetAlertHealth(ctx, req.AlertID)
	}},
	{"GetAlertTrends", func(ctx context.Context, svc Analytics, req request) (any, error) {
		r, err := req.requireRange()
		if err != nil {
			return nil, err
		}
		return svc.GetAlertTrends(ctx, req.AlertID, r, models.TrendGranularity(req.Granularity))
	}},
	{"GetSystemAlertStats", func(ctx context.Context, svc Analytics, req request) (any, error) {
		r, err := req.requireRange()
		if err != nil {
			return nil, err
		}
		return svc.GetSystemAlertStats(ctx, r)
	}},
	{"GetUserAlertStats", func(ctx context.Context, svc Analytics, req request) (any, error) {
		r, err := req.requireRange()
		if err != nil {
			return nil, err
		}
		return svc.GetUserAlertStats(ctx, req.UserID, r)
	}},
}

// ServiceDesc describes the AnalyticsEngine service. Every method takes and returns a
// google.protobuf.Struct; responses carry the operation result under "result".
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Analytics)(nil),
	Methods:     methodDescs(methods),
	Streams:     []grpc.StreamDesc{},
}

func methodDescs(ms []method) []grpc.MethodDesc {
	out := make([]grpc.MethodDesc, 0, len(ms))
	for _, m := range ms {
		out = append(out, unary(m.name, m.fn))
	}
	return out
}

func unary(name string, fn call) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, msg any) (any, error) {
				out, err := invoke(ctx, srv.(Analytics), msg.(*structpb.Struct), fn)
				if err != nil {
					return nil, err
				}
				return out, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func invoke(ctx context.Context, svc Analytics, in *structpb.Struct, fn call) (*structpb.Struct, error) {
	req, err := decodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	result, err := fn(ctx, svc, req)
	if err != nil {
		return nil, ToStatus(err)
	}
	out, err := encodeResponse(result)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func decodeRequest(in *structpb.Struct) (request, error) {
	var req request
	data, err := protojson.Marshal(in)
	if err != nil {
		return req, fmt.Errorf("read request: %w", err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func encodeResponse(result any) (*structpb.Struct, error) {
	data, err := json.Marshal(map[string]any{"result": result})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ToStatus maps analytics errors onto gRPC status codes. Bad input becomes
// InvalidArgument; store timeouts become DeadlineExceeded; other backend failures Unavailable.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case utils.IsBadInput(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, utils.ErrStoreExecution) && isTimeout(err):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, utils.ErrStoreExecution):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, utils.ErrMalformedResult):
		return status.Error(codes.Internal, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
