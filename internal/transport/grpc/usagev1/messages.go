// Package usagev1 defines the usagewatch.v1 gRPC API: message types, the
// service descriptor, and a client. Messages travel with the "json" codec.
package usagev1

import "google.golang.org/protobuf/types/known/timestamppb"

type Property struct {
	Id        string                 `json:"id"`
	Name      string                 `json:"name"`
	Address   string                 `json:"address,omitempty"`
	CreatedAt *timestamppb.Timestamp `json:"createdAt,omitempty"`
}

type Reading struct {
	Id          string                 `json:"id"`
	PropertyId  string                 `json:"propertyId"`
	UtilityType string                 `json:"utilityType"`
	Value       float64                `json:"value"`
	Unit        string                 `json:"unit"`
	ReadingDate *timestamppb.Timestamp `json:"readingDate,omitempty"`
	IsAnomaly   bool                   `json:"isAnomaly"`
}

type Anomaly struct {
	Id             string                 `json:"id"`
	PropertyId     string                 `json:"propertyId"`
	ReadingId      string                 `json:"readingId"`
	UtilityType    string                 `json:"utilityType"`
	Severity       string                 `json:"severity"`
	Message        string                 `json:"message"`
	ThresholdValue float64                `json:"thresholdValue"`
	ActualValue    float64                `json:"actualValue"`
	DetectedAt     *timestamppb.Timestamp `json:"detectedAt,omitempty"`
}

type DetectionResult struct {
	UtilityType      string  `json:"utilityType"`
	Period           string  `json:"period"`
	AnomalyDetected  bool    `json:"anomalyDetected"`
	Severity         string  `json:"severity"`
	AnomalyThreshold float64 `json:"anomalyThreshold"`
	ActualValue      float64 `json:"actualValue"`
	BaselineValue    float64 `json:"baselineValue"`
	DeviationRatio   float64 `json:"deviationRatio"`
	ZScore           float64 `json:"zScore"`
	SampleSize       int32   `json:"sampleSize"`
	AlertMessage     *string `json:"alertMessage,omitempty"`
}

type PropertyAnalysis struct {
	PropertyId       string             `json:"propertyId"`
	PropertyName     string             `json:"propertyName"`
	DetectionResults []*DetectionResult `json:"detectionResults"`
}

type PropertyFailure struct {
	PropertyId string `json:"propertyId"`
	Error      string `json:"error"`
}

type CreatePropertyRequest struct {
	Id      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

type CreatePropertyResponse struct {
	Property *Property `json:"property"`
}

type RecordReadingRequest struct {
	PropertyId  string  `json:"propertyId"`
	UtilityType string  `json:"utilityType"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit,omitempty"`
	// ReadingDate defaults to the server's current time when unset.
	ReadingDate *timestamppb.Timestamp `json:"readingDate,omitempty"`
}

type RecordReadingResponse struct {
	Reading         *Reading         `json:"reading"`
	AnomalyDetected bool             `json:"anomalyDetected"`
	AnalysisResult  *DetectionResult `json:"analysisResult,omitempty"`
	Anomaly         *Anomaly         `json:"anomaly,omitempty"`
}

type ListReadingsRequest struct {
	PropertyId string `json:"propertyId"`
}

type ListReadingsResponse struct {
	Readings []*Reading `json:"readings"`
}

type ListAnomaliesRequest struct {
	// PropertyId filters by property; empty lists every anomaly.
	PropertyId string `json:"propertyId,omitempty"`
}

type ListAnomaliesResponse struct {
	Anomalies []*Anomaly `json:"anomalies"`
}

type AnalyzePropertyRequest struct {
	PropertyId string `json:"propertyId"`
}

type AnalyzePropertyResponse struct {
	Analysis *PropertyAnalysis `json:"analysis"`
}

type AnalyzePortfolioRequest struct{}

type AnalyzePortfolioResponse struct {
	TotalPropertiesAnalyzed int32                  `json:"totalPropertiesAnalyzed"`
	PropertiesWithHistory   int32                  `json:"propertiesWithHistory"`
	PropertiesWithAnomalies int32                  `json:"propertiesWithAnomalies"`
	PropertiesSkipped       int32                  `json:"propertiesSkipped"`
	PropertiesFailed        int32                  `json:"propertiesFailed"`
	Failures                []*PropertyFailure     `json:"failures,omitempty"`
	Analyses                []*PropertyAnalysis    `json:"analyses"`
	Message                 string                 `json:"message"`
	GeneratedAt             *timestamppb.Timestamp `json:"generatedAt,omitempty"`
}

func (x *RecordReadingRequest) GetPropertyId() string {
	if x != nil {
		return x.PropertyId
	}
	return ""
}

func (x *RecordReadingRequest) GetReadingDate() *timestamppb.Timestamp {
	if x != nil {
		return x.ReadingDate
	}
	return nil
}

func (x *ListReadingsRequest) GetPropertyId() string {
	if x != nil {
		return x.PropertyId
	}
	return ""
}

func (x *ListAnomaliesRequest) GetPropertyId() string {
	if x != nil {
		return x.PropertyId
	}
	return ""
}

func (x *AnalyzePropertyRequest) GetPropertyId() string {
	if x != nil {
		return x.PropertyId
	}
	return ""
}
