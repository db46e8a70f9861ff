package domain

import "time"

// Property is a managed property whose utilities are metered.
type Property struct {
	ID        string
	Name      string
	Address   string
	CreatedAt time.Time
}

// Reading represents a single utility meter reading for a property.
type Reading struct {
	ID          string
	PropertyID  string
	UtilityType string
	Value       float64
	Unit        string
	ReadingDate time.Time
	IsAnomaly   bool
}

// Anomaly is a persisted alert raised for a reading.
type Anomaly struct {
	ID             string
	PropertyID     string
	ReadingID      string
	UtilityType    string
	Severity       string
	Message        string
	ThresholdValue float64
	ActualValue    float64
	DetectedAt     time.Time
}
