package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		utility  string
		unit     string
		actual   float64
		baseline float64
		sev      Severity
		want     string
	}{
		{
			name: "low", utility: "Water", unit: "gal", actual: 7600, baseline: 5000, sev: SeverityLow,
			want: "Low Water usage: 7600.00 gal is 52% above the baseline of 5000.00 gal. Monitor the next readings.",
		},
		{
			name: "medium", utility: "Gas", unit: "therms", actual: 180, baseline: 80, sev: SeverityMedium,
			want: "Medium Gas usage: 180.00 therms is 125% above the baseline of 80.00 therms. Schedule an inspection and verify the meter reading.",
		},
		{
			name: "zero baseline", utility: "Gas", unit: "therms", actual: 50, baseline: 0, sev: SeverityHigh,
			want: "High Gas usage: 50.00 therms recorded against a zero baseline. Inspect the property for leaks or faulty equipment.",
		},
		{
			name: "no unit", utility: "Heating Oil", actual: 300, baseline: 100, sev: SeverityHigh,
			want: "High Heating Oil usage: 300.00 is 200% above the baseline of 100.00. Inspect the property for leaks or faulty equipment.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AlertMessage(tt.utility, tt.unit, tt.actual, tt.baseline, tt.sev)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestAlertMessage_NoneIsAbsent(t *testing.T) {
	t.Parallel()
	assert.Nil(t, AlertMessage("Water", "gal", 5200, 5000, SeverityNone))
	assert.Nil(t, AlertMessage("Water", "gal", 5200, 5000, ""))
}

func TestComputeBaseline(t *testing.T) {
	t.Parallel()

	b := ComputeBaseline([]float64{1200, 1180, 1220})
	assert.InDelta(t, 1200, b.Mean, 1e-9)
	assert.InDelta(t, 20, b.StdDev, 1e-9)
	assert.Equal(t, 3, b.SampleSize)

	single := ComputeBaseline([]float64{42})
	assert.Equal(t, Baseline{Mean: 42, SampleSize: 1}, single)

	assert.Equal(t, Baseline{}, ComputeBaseline(nil))
}

func TestPeriod(t *testing.T) {
	t.Parallel()

	p, err := ParsePeriod("2024-11")
	require.NoError(t, err)
	assert.Equal(t, "2024-11", p.String())
	assert.True(t, p.Before(Period{Year: 2025, Month: 1}))
	assert.False(t, p.Before(p))

	text, err := p.MarshalText()
	require.NoError(t, err)
	var back Period
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, p, back)

	_, err = ParsePeriod("November")
	assert.Error(t, err)
}

func TestNewProfile_GroupsByCanonicalType(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	jan := Period{Year: 2024, Month: 1}
	feb := Period{Year: 2024, Month: 2}

	p, err := NewProfile(cfg, "p1", "Maple Court", []Reading{
		{UtilityType: "water", Period: jan, Value: 10},
		{UtilityType: "Electric", Period: jan, Value: 20},
		{UtilityType: "WATER", Period: feb, Value: 11},
	})
	require.NoError(t, err)
	assert.Equal(t, UtilityHistory{{Period: jan, Value: 10}, {Period: feb, Value: 11}}, p.Histories["Water"])
	assert.Len(t, p.Histories["Electric"], 1)

	_, err = NewProfile(cfg, "p1", "", []Reading{{UtilityType: "", Period: jan, Value: 1}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewProfile(cfg, "p1", "", []Reading{
		{UtilityType: "Water", Period: jan, Value: 1},
		{UtilityType: "Water", Period: jan, Value: 2},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
