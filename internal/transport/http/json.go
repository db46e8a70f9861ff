package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"

	usagev1 "github.com/milad/usagewatch/internal/transport/grpc/usagev1"
)

type propertyJSON struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type readingJSON struct {
	ID          string  `json:"id"`
	PropertyID  string  `json:"propertyId"`
	UtilityType string  `json:"utilityType"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	ReadingDate string  `json:"readingDate"`
	IsAnomaly   bool    `json:"isAnomaly"`
}

type anomalyJSON struct {
	ID             string  `json:"id"`
	PropertyID     string  `json:"propertyId"`
	ReadingID      string  `json:"readingId"`
	UtilityType    string  `json:"utilityType"`
	Severity       string  `json:"severity"`
	Message        string  `json:"message"`
	ThresholdValue float64 `json:"thresholdValue"`
	ActualValue    float64 `json:"actualValue"`
	DetectedAt     string  `json:"detectedAt"`
}

// Analysis payloads keep the snake_case field names of the analysis API.
type detectionResultJSON struct {
	UtilityType      string  `json:"utility_type"`
	Period           string  `json:"period"`
	AnomalyDetected  bool    `json:"anomaly_detected"`
	Severity         string  `json:"severity"`
	AnomalyThreshold float64 `json:"anomaly_threshold"`
	ActualValue      float64 `json:"actual_value"`
	BaselineValue    float64 `json:"baseline_value"`
	DeviationRatio   float64 `json:"deviation_ratio"`
	ZScore           float64 `json:"z_score"`
	SampleSize       int32   `json:"sample_size"`
	AlertMessage     *string `json:"alert_message,omitempty"`
}

type propertyAnalysisJSON struct {
	PropertyID       string                `json:"property_id"`
	PropertyName     string                `json:"property_name"`
	DetectionResults []detectionResultJSON `json:"detection_results"`
}

type propertyFailureJSON struct {
	PropertyID string `json:"property_id"`
	Error      string `json:"error"`
}

type portfolioJSON struct {
	TotalPropertiesAnalyzed int32                  `json:"total_properties_analyzed"`
	PropertiesWithHistory   int32                  `json:"properties_with_history"`
	PropertiesWithAnomalies int32                  `json:"properties_with_anomalies"`
	PropertiesSkipped       int32                  `json:"properties_skipped"`
	PropertiesFailed        int32                  `json:"properties_failed"`
	Failures                []propertyFailureJSON  `json:"failures,omitempty"`
	Analyses                []propertyAnalysisJSON `json:"analyses"`
	Message                 string                 `json:"message"`
	GeneratedAt             string                 `json:"generated_at,omitempty"`
}

type recordReadingRequestJSON struct {
	PropertyID  string   `json:"propertyId"`
	UtilityType string   `json:"utilityType"`
	Value       *float64 `json:"value"`
	Unit        string   `json:"unit"`
	ReadingDate string   `json:"readingDate"`
}

type recordReadingResponseJSON struct {
	Reading         readingJSON          `json:"reading"`
	AnomalyDetected bool                 `json:"anomalyDetected"`
	AnalysisResult  *detectionResultJSON `json:"analysisResult,omitempty"`
}

type createPropertyRequestJSON struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

type listReadingsResponseJSON struct {
	Readings []readingJSON `json:"readings"`
}

type listAnomaliesResponseJSON struct {
	Anomalies []anomalyJSON `json:"anomalies"`
}

type apiErrorJSON struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// formatTimestamp renders an upstream timestamp; unset or invalid values render empty.
func formatTimestamp(ts *timestamppb.Timestamp) string {
	if ts == nil || ts.CheckValid() != nil {
		return ""
	}
	return formatTime(ts.AsTime())
}

func toPropertyJSON(p *usagev1.Property) propertyJSON {
	if p == nil {
		return propertyJSON{}
	}
	return propertyJSON{ID: p.Id, Name: p.Name, Address: p.Address, CreatedAt: formatTimestamp(p.CreatedAt)}
}

func toReadingJSON(r *usagev1.Reading) readingJSON {
	if r == nil {
		return readingJSON{}
	}
	return readingJSON{
		ID:          r.Id,
		PropertyID:  r.PropertyId,
		UtilityType: r.UtilityType,
		Value:       r.Value,
		Unit:        r.Unit,
		ReadingDate: formatTimestamp(r.ReadingDate),
		IsAnomaly:   r.IsAnomaly,
	}
}

func toAnomalyJSON(a *usagev1.Anomaly) anomalyJSON {
	return anomalyJSON{
		ID:             a.Id,
		PropertyID:     a.PropertyId,
		ReadingID:      a.ReadingId,
		UtilityType:    a.UtilityType,
		Severity:       a.Severity,
		Message:        a.Message,
		ThresholdValue: a.ThresholdValue,
		ActualValue:    a.ActualValue,
		DetectedAt:     formatTimestamp(a.DetectedAt),
	}
}

func toDetectionResultJSON(r *usagev1.DetectionResult) detectionResultJSON {
	return detectionResultJSON{
		UtilityType:      r.UtilityType,
		Period:           r.Period,
		AnomalyDetected:  r.AnomalyDetected,
		Severity:         r.Severity,
		AnomalyThreshold: r.AnomalyThreshold,
		ActualValue:      r.ActualValue,
		BaselineValue:    r.BaselineValue,
		DeviationRatio:   r.DeviationRatio,
		ZScore:           r.ZScore,
		SampleSize:       r.SampleSize,
		AlertMessage:     r.AlertMessage,
	}
}

func toPropertyAnalysisJSON(a *usagev1.PropertyAnalysis) propertyAnalysisJSON {
	out := propertyAnalysisJSON{
		DetectionResults: []detectionResultJSON{},
	}
	if a == nil {
		return out
	}
	out.PropertyID = a.PropertyId
	out.PropertyName = a.PropertyName
	for _, r := range a.DetectionResults {
		if r != nil {
			out.DetectionResults = append(out.DetectionResults, toDetectionResultJSON(r))
		}
	}
	return out
}

func toPortfolioJSON(r *usagev1.AnalyzePortfolioResponse) portfolioJSON {
	out := portfolioJSON{
		TotalPropertiesAnalyzed: r.TotalPropertiesAnalyzed,
		PropertiesWithHistory:   r.PropertiesWithHistory,
		PropertiesWithAnomalies: r.PropertiesWithAnomalies,
		PropertiesSkipped:       r.PropertiesSkipped,
		PropertiesFailed:        r.PropertiesFailed,
		Analyses:                make([]propertyAnalysisJSON, 0, len(r.Analyses)),
		Message:                 r.Message,
		GeneratedAt:             formatTimestamp(r.GeneratedAt),
	}
	for _, f := range r.Failures {
		if f != nil {
			out.Failures = append(out.Failures, propertyFailureJSON{PropertyID: f.PropertyId, Error: f.Error})
		}
	}
	for _, a := range r.Analyses {
		out.Analyses = append(out.Analyses, toPropertyAnalysisJSON(a))
	}
	return out
}
