package anomaly

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidInput marks structurally invalid readings or profiles.
var ErrInvalidInput = errors.New("invalid input")

const periodLayout = "2006-01"

// Period identifies a calendar month.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the UTC calendar month containing t.
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod parses a "YYYY-MM" month identifier.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse(periodLayout, s)
	if err != nil {
		return Period{}, fmt.Errorf("parse period %q: %w", s, err)
	}
	return PeriodOf(t), nil
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(b []byte) error {
	got, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = got
	return nil
}

// UsagePoint is one month of consumption for a single utility type.
type UsagePoint struct {
	Period Period  `json:"period"`
	Value  float64 `json:"value"`
}

// UtilityHistory is a chronological sequence of usage points for one utility type.
type UtilityHistory []UsagePoint

// Reading is a raw reading as supplied by the reading source.
type Reading struct {
	UtilityType string
	Period      Period
	Value       float64
}

// PropertyUsageProfile holds one property's histories keyed by utility type.
type PropertyUsageProfile struct {
	PropertyID   string
	PropertyName string
	Histories    map[string]UtilityHistory
}

// NewProfile groups a chronologically ordered list of readings by utility type.
// Utility type names are resolved against cfg; order within each group is preserved.
func NewProfile(cfg Config, propertyID, propertyName string, readings []Reading) (PropertyUsageProfile, error) {
	if propertyID == "" {
		return PropertyUsageProfile{}, fmt.Errorf("%w: property id is required", ErrInvalidInput)
	}
	p := PropertyUsageProfile{
		PropertyID:   propertyID,
		PropertyName: propertyName,
		Histories:    make(map[string]UtilityHistory),
	}
	for i, r := range readings {
		ut, ok := cfg.Lookup(r.UtilityType)
		if !ok {
			return PropertyUsageProfile{}, fmt.Errorf("%w: reading %d: unknown utility type %q", ErrInvalidInput, i, r.UtilityType)
		}
		p.Histories[ut.Name] = append(p.Histories[ut.Name], UsagePoint{Period: r.Period, Value: r.Value})
	}
	if _, err := normalize(cfg, p); err != nil {
		return PropertyUsageProfile{}, err
	}
	return p, nil
}

// normalize validates a profile and re-keys its histories by canonical utility type name.
func normalize(cfg Config, p PropertyUsageProfile) (map[string]UtilityHistory, error) {
	if p.PropertyID == "" {
		return nil, fmt.Errorf("%w: property id is required", ErrInvalidInput)
	}
	out := make(map[string]UtilityHistory, len(p.Histories))
	for name, h := range p.Histories {
		ut, ok := cfg.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown utility type %q", ErrInvalidInput, name)
		}
		if _, dup := out[ut.Name]; dup {
			return nil, fmt.Errorf("%w: utility type %q supplied more than once", ErrInvalidInput, ut.Name)
		}
		if err := validateHistory(h); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, ut.Name, err)
		}
		out[ut.Name] = h
	}
	return out, nil
}

func validateHistory(h UtilityHistory) error {
	for i, pt := range h {
		if math.IsNaN(pt.Value) || math.IsInf(pt.Value, 0) {
			return fmt.Errorf("point %d: value %v is not a finite number", i, pt.Value)
		}
		if pt.Value < 0 {
			return fmt.Errorf("point %d: negative value %v", i, pt.Value)
		}
		if pt.Period.IsZero() {
			return fmt.Errorf("point %d: period is required", i)
		}
		if i > 0 && !h[i-1].Period.Before(pt.Period) {
			return fmt.Errorf("point %d: period %s does not follow %s", i, pt.Period, h[i-1].Period)
		}
	}
	return nil
}
