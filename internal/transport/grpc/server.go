package grpcserver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/milad/usagewatch/internal/anomaly"
	"github.com/milad/usagewatch/internal/domain"
	"github.com/milad/usagewatch/internal/service"
	usagev1 "github.com/milad/usagewatch/internal/transport/grpc/usagev1"
)

type Server struct {
	usagev1.UnimplementedUsageServiceServer
	svc *service.UsageService
	log *zap.Logger
}

func New(svc *service.UsageService, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, log: log.Named("grpc")}
}

func (s *Server) CreateProperty(ctx context.Context, req *usagev1.CreatePropertyRequest) (*usagev1.CreatePropertyResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	p, err := s.svc.CreateProperty(ctx, service.CreatePropertyInput{ID: req.Id, Name: req.Name, Address: req.Address})
	if err != nil {
		return nil, s.toStatus("CreateProperty", err)
	}
	return &usagev1.CreatePropertyResponse{Property: toProtoProperty(p)}, nil
}

func (s *Server) RecordReading(ctx context.Context, req *usagev1.RecordReadingRequest) (*usagev1.RecordReadingResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	var date time.Time
	if ts := req.GetReadingDate(); ts != nil {
		if err := ts.CheckValid(); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		date = ts.AsTime().UTC()
	}

	res, err := s.svc.RecordReading(ctx, service.RecordReadingInput{
		PropertyID:  req.GetPropertyId(),
		UtilityType: req.UtilityType,
		Value:       req.Value,
		Unit:        req.Unit,
		ReadingDate: date,
	})
	if err != nil {
		return nil, s.toStatus("RecordReading", err)
	}

	out := &usagev1.RecordReadingResponse{
		Reading:         toProtoReading(res.Reading),
		AnomalyDetected: res.AnomalyDetected,
	}
	if res.Analysis != nil {
		out.AnalysisResult = toProtoResult(*res.Analysis)
	}
	if res.Anomaly != nil {
		out.Anomaly = toProtoAnomaly(*res.Anomaly)
	}
	return out, nil
}

func (s *Server) ListReadings(ctx context.Context, req *usagev1.ListReadingsRequest) (*usagev1.ListReadingsResponse, error) {
	readings, err := s.svc.ListReadings(ctx, req.GetPropertyId())
	if err != nil {
		return nil, s.toStatus("ListReadings", err)
	}
	// Newest first, the order the dashboard shows them in.
	out := make([]*usagev1.Reading, 0, len(readings))
	for i := len(readings) - 1; i >= 0; i-- {
		out = append(out, toProtoReading(readings[i]))
	}
	return &usagev1.ListReadingsResponse{Readings: out}, nil
}

func (s *Server) ListAnomalies(ctx context.Context, req *usagev1.ListAnomaliesRequest) (*usagev1.ListAnomaliesResponse, error) {
	anomalies, err := s.svc.ListAnomalies(ctx, req.GetPropertyId())
	if err != nil {
		return nil, s.toStatus("ListAnomalies", err)
	}
	out := make([]*usagev1.Anomaly, 0, len(anomalies))
	for _, a := range anomalies {
		out = append(out, toProtoAnomaly(a))
	}
	return &usagev1.ListAnomaliesResponse{Anomalies: out}, nil
}

func (s *Server) AnalyzeProperty(ctx context.Context, req *usagev1.AnalyzePropertyRequest) (*usagev1.AnalyzePropertyResponse, error) {
	a, err := s.svc.AnalyzeProperty(ctx, req.GetPropertyId())
	if err != nil {
		return nil, s.toStatus("AnalyzeProperty", err)
	}
	return &usagev1.AnalyzePropertyResponse{Analysis: toProtoAnalysis(a)}, nil
}

func (s *Server) AnalyzePortfolio(ctx context.Context, _ *usagev1.AnalyzePortfolioRequest) (*usagev1.AnalyzePortfolioResponse, error) {
	r, err := s.svc.AnalyzePortfolio(ctx)
	if err != nil {
		return nil, s.toStatus("AnalyzePortfolio", err)
	}
	out := &usagev1.AnalyzePortfolioResponse{
		TotalPropertiesAnalyzed: int32(r.TotalPropertiesAnalyzed),
		PropertiesWithHistory:   int32(r.PropertiesWithHistory),
		PropertiesWithAnomalies: int32(r.PropertiesWithAnomalies),
		PropertiesSkipped:       int32(r.PropertiesSkipped),
		PropertiesFailed:        int32(r.PropertiesFailed),
		Analyses:                make([]*usagev1.PropertyAnalysis, 0, len(r.Analyses)),
		Message:                 r.Message,
		GeneratedAt:             timestamppb.New(r.GeneratedAt),
	}
	for _, f := range r.Failures {
		out.Failures = append(out.Failures, &usagev1.PropertyFailure{PropertyId: f.PropertyID, Error: f.Error})
	}
	for _, a := range r.Analyses {
		out.Analyses = append(out.Analyses, toProtoAnalysis(a))
	}
	return out, nil
}

func (s *Server) toStatus(method string, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrDuplicatePeriod), errors.Is(err, service.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		s.log.Error("request failed", zap.String("method", method), zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}

func toProtoProperty(p domain.Property) *usagev1.Property {
	return &usagev1.Property{
		Id:        p.ID,
		Name:      p.Name,
		Address:   p.Address,
		CreatedAt: timestamppb.New(p.CreatedAt),
	}
}

func toProtoReading(r domain.Reading) *usagev1.Reading {
	return &usagev1.Reading{
		Id:          r.ID,
		PropertyId:  r.PropertyID,
		UtilityType: r.UtilityType,
		Value:       r.Value,
		Unit:        r.Unit,
		ReadingDate: timestamppb.New(r.ReadingDate),
		IsAnomaly:   r.IsAnomaly,
	}
}

func toProtoAnomaly(a domain.Anomaly) *usagev1.Anomaly {
	return &usagev1.Anomaly{
		Id:             a.ID,
		PropertyId:     a.PropertyID,
		ReadingId:      a.ReadingID,
		UtilityType:    a.UtilityType,
		Severity:       a.Severity,
		Message:        a.Message,
		ThresholdValue: a.ThresholdValue,
		ActualValue:    a.ActualValue,
		DetectedAt:     timestamppb.New(a.DetectedAt),
	}
}

func toProtoResult(r anomaly.DetectionResult) *usagev1.DetectionResult {
	return &usagev1.DetectionResult{
		UtilityType:      r.UtilityType,
		Period:           r.Period.String(),
		AnomalyDetected:  r.AnomalyDetected,
		Severity:         string(r.Severity),
		AnomalyThreshold: r.AnomalyThreshold,
		ActualValue:      r.ActualValue,
		BaselineValue:    r.BaselineValue,
		DeviationRatio:   r.DeviationRatio,
		ZScore:           r.ZScore,
		SampleSize:       int32(r.SampleSize),
		AlertMessage:     r.AlertMessage,
	}
}

func toProtoAnalysis(a anomaly.PropertyAnalysis) *usagev1.PropertyAnalysis {
	out := &usagev1.PropertyAnalysis{
		PropertyId:       a.PropertyID,
		PropertyName:     a.PropertyName,
		DetectionResults: make([]*usagev1.DetectionResult, 0, len(a.DetectionResults)),
	}
	for _, r := range a.DetectionResults {
		out.DetectionResults = append(out.DetectionResults, toProtoResult(r))
	}
	return out
}
