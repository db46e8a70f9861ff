package anomaly

import (
	"fmt"
	"strings"
)

// AlertMessage explains a detected anomaly. It returns nil for SeverityNone.
func AlertMessage(utilityType, unit string, actual, baseline float64, sev Severity) *string {
	if sev.Rank() == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s usage: ", title(sev), utilityType)
	if baseline <= 0 {
		fmt.Fprintf(&b, "%s recorded against a zero baseline.", quantity(actual, unit))
	} else {
		pct := (actual - baseline) / baseline * 100
		fmt.Fprintf(&b, "%s is %.0f%% above the baseline of %s.", quantity(actual, unit), pct, quantity(baseline, unit))
	}
	b.WriteString(" ")
	b.WriteString(advice(sev))

	msg := b.String()
	return &msg
}

func quantity(v float64, unit string) string {
	if unit == "" {
		return fmt.Sprintf("%.2f", v)
	}
	return fmt.Sprintf("%.2f %s", v, unit)
}

func title(sev Severity) string {
	s := string(sev)
	return strings.ToUpper(s[:1]) + s[1:]
}

func advice(sev Severity) string {
	switch sev {
	case SeverityHigh:
		return "Inspect the property for leaks or faulty equipment."
	case SeverityMedium:
		return "Schedule an inspection and verify the meter reading."
	default:
		return "Monitor the next readings."
	}
}
