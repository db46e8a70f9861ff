package httpserver

import (
	"context"
	"time"

	"google.golang.org/grpc"

	usagev1 "github.com/milad/usagewatch/internal/transport/grpc/usagev1"
)

// UsageClient is the subset of the gRPC client the gateway calls, to keep tests simple.
type UsageClient interface {
	CreateProperty(ctx context.Context, in *usagev1.CreatePropertyRequest, opts ...grpc.CallOption) (*usagev1.CreatePropertyResponse, error)
	RecordReading(ctx context.Context, in *usagev1.RecordReadingRequest, opts ...grpc.CallOption) (*usagev1.RecordReadingResponse, error)
	ListReadings(ctx context.Context, in *usagev1.ListReadingsRequest, opts ...grpc.CallOption) (*usagev1.ListReadingsResponse, error)
	ListAnomalies(ctx context.Context, in *usagev1.ListAnomaliesRequest, opts ...grpc.CallOption) (*usagev1.ListAnomaliesResponse, error)
	AnalyzeProperty(ctx context.Context, in *usagev1.AnalyzePropertyRequest, opts ...grpc.CallOption) (*usagev1.AnalyzePropertyResponse, error)
	AnalyzePortfolio(ctx context.Context, in *usagev1.AnalyzePortfolioRequest, opts ...grpc.CallOption) (*usagev1.AnalyzePortfolioResponse, error)
}

const dateLayout = "2006-01-02"

// parseOptionalTime accepts RFC3339 (with or without fractional seconds) or a
// plain YYYY-MM-DD date, interpreted as UTC.
func parseOptionalTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		// allow nano timestamps and bare dates too
		t2, err2 := time.Parse(time.RFC3339Nano, v)
		if err2 != nil {
			t3, err3 := time.ParseInLocation(dateLayout, v, time.UTC)
			if err3 != nil {
				return nil, err
			}
			t2 = t3
		}
		t = t2
	}
	tt := t.UTC()
	return &tt, nil
}
