package csvrepo

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/milad/usagewatch/internal/anomaly"
	"github.com/milad/usagewatch/internal/domain"
)

const (
	dateLayout = "2006-01-02"
)

var wantHeader = []string{"property_id", "property_name", "utility_type", "reading_date", "value", "unit"}

// Seed is the content of a readings CSV file.
type Seed struct {
	Properties []domain.Property // in first-seen order
	Readings   []domain.Reading
}

// ParseReadingsCSV parses property readings from the provided CSV reader.
//
// Expected header: property_id,property_name,utility_type,reading_date,value,unit
//
// Dates are parsed using layout "2006-01-02" and interpreted as UTC. Utility types
// are canonicalised against cfg and an empty unit takes the type's default. A
// property holds at most one reading per utility type and month; later rows for a
// taken month are rejected. Invalid rows are skipped and returned as a joined
// error (errors.Join).
func ParseReadingsCSV(r io.Reader, cfg anomaly.Config) (Seed, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // be permissive; validate ourselves
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return Seed{}, fmt.Errorf("read header: %w", err)
	}
	if !headerMatches(header) {
		return Seed{}, fmt.Errorf("unexpected header %q (want %q)", strings.Join(header, ","), strings.Join(wantHeader, ","))
	}

	var (
		seed    Seed
		seen    = make(map[string]bool)
		periods = make(map[periodKey]int) // first row holding each period
		rowErrs []error
		rowNum  = 1 // header
	)

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: read: %w", rowNum, err))
			continue
		}
		if len(row) < 5 {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: expected at least 5 columns, got %d", rowNum, len(row)))
			continue
		}

		propertyID := strings.TrimSpace(row[0])
		if propertyID == "" {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: missing property_id", rowNum))
			continue
		}
		utilityType := strings.TrimSpace(row[2])
		if utilityType == "" {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: missing utility_type", rowNum))
			continue
		}
		ut, ok := cfg.Lookup(utilityType)
		if !ok {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: unknown utility_type %q", rowNum, utilityType))
			continue
		}

		date, err := time.ParseInLocation(dateLayout, strings.TrimSpace(row[3]), time.UTC)
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: parse reading_date %q: %w", rowNum, row[3], err))
			continue
		}

		v, err := strconv.ParseFloat(strings.TrimSpace(row[4]), 64)
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: parse value %q: %w", rowNum, row[4], err))
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: invalid value %v", rowNum, v))
			continue
		}

		key := periodKey{propertyID: propertyID, utilityType: ut.Name, period: anomaly.PeriodOf(date)}
		if first, taken := periods[key]; taken {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: %s %s for property %q already recorded in row %d",
				rowNum, ut.Name, key.period, propertyID, first))
			continue
		}
		periods[key] = rowNum

		unit := ut.Unit
		if len(row) > 5 && strings.TrimSpace(row[5]) != "" {
			unit = strings.TrimSpace(row[5])
		}

		if !seen[propertyID] {
			seen[propertyID] = true
			seed.Properties = append(seed.Properties, domain.Property{
				ID:        propertyID,
				Name:      strings.TrimSpace(row[1]),
				CreatedAt: date,
			})
		}
		seed.Readings = append(seed.Readings, domain.Reading{
			PropertyID:  propertyID,
			UtilityType: ut.Name,
			Value:       v,
			Unit:        unit,
			ReadingDate: date,
		})
	}

	return seed, errors.Join(rowErrs...)
}

type periodKey struct {
	propertyID  string
	utilityType string
	period      anomaly.Period
}

func headerMatches(header []string) bool {
	if len(header) < len(wantHeader)-1 {
		return false
	}
	for i, h := range header {
		if i >= len(wantHeader) {
			break
		}
		if strings.ToLower(strings.TrimSpace(h)) != wantHeader[i] {
			return false
		}
	}
	return true
}
