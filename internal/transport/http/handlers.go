package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	usagev1 "github.com/milad/usagewatch/internal/transport/grpc/usagev1"
)

const (
	upstreamTimeout = 5 * time.Second
	maxBodyBytes    = 1 << 20
)

type Server struct {
	client UsageClient
	mux    *http.ServeMux
	log    *zap.Logger
}

func New(client UsageClient, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		client: client,
		mux:    http.NewServeMux(),
		log:    log.Named("http"),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := newRequestID()

	w.Header().Set("X-Request-Id", reqID)
	rr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		if rec := recover(); rec != nil {
			rr.status = http.StatusInternalServerError

			// Headers may already be out; then all we can do is log.
			if !rr.wroteHeader {
				if strings.HasPrefix(r.URL.Path, "/api") {
					writeAPIError(rr, http.StatusInternalServerError, "internal_error", "internal error")
				} else {
					http.Error(rr, "internal error", http.StatusInternalServerError)
				}
			}

			s.log.Error("panic handling request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("req_id", reqID),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
		}

		dur := time.Since(start)
		recordRequest(r.URL.Path, r.Method, rr.status, dur)

		// Keep health checks + metrics endpoint quiet.
		if r.URL.Path != "/healthz" && r.URL.Path != "/metrics" {
			s.log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rr.status),
				zap.Duration("duration", dur.Truncate(time.Millisecond)),
				zap.String("req_id", reqID),
			)
		}
	}()

	s.mux.ServeHTTP(rr, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/readings", s.handleReadings)
	s.mux.HandleFunc("/api/anomalies", s.handleListAnomalies)
	s.mux.HandleFunc("/api/analysis/anomalies", s.handleAnalyzePortfolio)
	s.mux.HandleFunc("/api/properties", s.handleCreateProperty)
	s.mux.HandleFunc("GET /api/properties/{id}/analysis", s.handleAnalyzeProperty)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/", s.handleIndex)
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListReadings(w, r)
	case http.MethodPost:
		s.handleRecordReading(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// handleListReadings returns readings newest first. The optional propertyId
// query param narrows the list to one property.
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), upstreamTimeout)
	defer cancel()

	req := &usagev1.ListReadingsRequest{PropertyId: r.URL.Query().Get("propertyId")}
	grpcStart := time.Now()
	resp, err := s.client.ListReadings(ctx, req)
	if !s.upstreamOK(w, "ListReadings", grpcStart, err) {
		return
	}

	out := make([]readingJSON, 0, len(resp.Readings))
	for _, rd := range resp.Readings {
		if rd == nil || rd.ReadingDate.CheckValid() != nil {
			writeAPIError(w, http.StatusBadGateway, "upstream_error", "upstream returned invalid reading")
			return
		}
		out = append(out, toReadingJSON(rd))
	}
	_ = writeJSON(w, http.StatusOK, listReadingsResponseJSON{Readings: out})
}

// handleRecordReading stores a reading and runs detection for its series.
// readingDate accepts RFC3339 or YYYY-MM-DD and defaults to now upstream.
func (s *Server) handleRecordReading(w http.ResponseWriter, r *http.Request) {
	var body recordReadingRequestJSON
	if !decodeBody(w, r, &body) {
		return
	}
	if body.PropertyID == "" || body.UtilityType == "" || body.Value == nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_argument", "Missing required fields")
		return
	}
	date, err := parseOptionalTime(body.ReadingDate)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_argument", "invalid readingDate")
		return
	}

	req := &usagev1.RecordReadingRequest{
		PropertyId:  body.PropertyID,
		UtilityType: body.UtilityType,
		Value:       *body.Value,
		Unit:        body.Unit,
	}
	if date != nil {
		req.ReadingDate = timestamppb.New(*date)
	}

	ctx, cancel := context.WithTimeout(r.Context(), upstreamTimeout)
	defer cancel()
	grpcStart := time.Now()
	resp, err := s.client.RecordReading(ctx, req)
	if !s.upstreamOK(w, "RecordReading", grpcStart, err) {
		return
	}

	out := recordReadingResponseJSON{
		Reading:         toReadingJSON(resp.Reading),
		AnomalyDetected: resp.AnomalyDetected,
	}
	// The analysis is only echoed back when it flagged something.
	if resp.AnomalyDetected && resp.AnalysisResult != nil {
		ar := toDetectionResultJSON(resp.AnalysisResult)
		out.AnalysisResult = &ar
	}
	_ = writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), upstreamTimeout)
	defer cancel()
	grpcStart := time.Now()
	resp, err := s.client.ListAnomalies(ctx, &usagev1.ListAnomaliesRequest{PropertyId: r.URL.Query().Get("propertyId")})
	if !s.upstreamOK(w, "ListAnomalies", grpcStart, err) {
		return
	}

	out := make([]anomalyJSON, 0, len(resp.Anomalies))
	for _, a := range resp.Anomalies {
		if a != nil {
			out = append(out, toAnomalyJSON(a))
		}
	}
	_ = writeJSON(w, http.StatusOK, listAnomaliesResponseJSON{Anomalies: out})
}

// handleAnalyzePortfolio runs detection across every property with enough history.
func (s *Server) handleAnalyzePortfolio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), upstreamTimeout)
	defer cancel()
	grpcStart := time.Now()
	resp, err := s.client.AnalyzePortfolio(ctx, &usagev1.AnalyzePortfolioRequest{})
	if !s.upstreamOK(w, "AnalyzePortfolio", grpcStart, err) {
		return
	}
	_ = writeJSON(w, http.StatusOK, toPortfolioJSON(resp))
}

func (s *Server) handleAnalyzeProperty(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), upstreamTimeout)
	defer cancel()
	grpcStart := time.Now()
	resp, err := s.client.AnalyzeProperty(ctx, &usagev1.AnalyzePropertyRequest{PropertyId: r.PathValue("id")})
	if !s.upstreamOK(w, "AnalyzeProperty", grpcStart, err) {
		return
	}
	_ = writeJSON(w, http.StatusOK, toPropertyAnalysisJSON(resp.Analysis))
}

func (s *Server) handleCreateProperty(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var body createPropertyRequestJSON
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_argument", "Missing required fields")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), upstreamTimeout)
	defer cancel()
	grpcStart := time.Now()
	resp, err := s.client.CreateProperty(ctx, &usagev1.CreatePropertyRequest{
		Id:      body.ID,
		Name:    body.Name,
		Address: body.Address,
	})
	if !s.upstreamOK(w, "CreateProperty", grpcStart, err) {
		return
	}
	_ = writeJSON(w, http.StatusCreated, toPropertyJSON(resp.Property))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		// Keep API errors JSON.
		if strings.HasPrefix(r.URL.Path, "/api") {
			writeAPIError(w, http.StatusNotFound, "not_found", "not found")
			return
		}
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

// upstreamOK records the upstream call and, on failure, writes the mapped API
// error. It reports whether the handler should go on to render the response.
func (s *Server) upstreamOK(w http.ResponseWriter, method string, start time.Time, err error) bool {
	dur := time.Since(start)
	if err == nil {
		recordUsageCall(method, codes.OK, dur)
		return true
	}

	st, ok := status.FromError(err)
	if !ok {
		recordUsageCall(method, codes.Unknown, dur)
		s.log.Warn("upstream call failed", zap.String("method", method), zap.Error(err))
		writeAPIError(w, http.StatusBadGateway, "upstream_error", "upstream error")
		return false
	}
	recordUsageCall(method, st.Code(), dur)

	switch st.Code() {
	case codes.InvalidArgument:
		writeAPIError(w, http.StatusBadRequest, "invalid_argument", st.Message())
	case codes.NotFound:
		writeAPIError(w, http.StatusNotFound, "not_found", st.Message())
	case codes.AlreadyExists:
		writeAPIError(w, http.StatusConflict, "already_exists", st.Message())
	case codes.DeadlineExceeded:
		writeAPIError(w, http.StatusGatewayTimeout, "upstream_timeout", "upstream timeout")
	default:
		s.log.Warn("upstream call failed",
			zap.String("method", method),
			zap.String("code", st.Code().String()),
			zap.String("message", st.Message()),
		)
		writeAPIError(w, http.StatusBadGateway, "upstream_error", "upstream error")
	}
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeAPIError(w, http.StatusRequestEntityTooLarge, "invalid_argument", "request body too large")
		case errors.Is(err, io.EOF):
			writeAPIError(w, http.StatusBadRequest, "invalid_argument", "request body is required")
		default:
			writeAPIError(w, http.StatusBadRequest, "invalid_argument", "invalid JSON body")
		}
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(p)
}

func newRequestID() string {
	var b [6]byte // 12 hex chars
	if _, err := rand.Read(b[:]); err != nil {
		return "000000000000"
	}
	return hex.EncodeToString(b[:])
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	reqID := w.Header().Get("X-Request-Id")
	_ = writeJSON(w, status, apiErrorJSON{
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}
