package anomaly

import "math"

// Baseline summarises normal consumption for one utility type.
type Baseline struct {
	Mean       float64
	StdDev     float64
	SampleSize int
}

// ComputeBaseline returns the mean and sample standard deviation of values.
// With fewer than two samples the standard deviation is 0.
func ComputeBaseline(values []float64) Baseline {
	n := len(values)
	if n == 0 {
		return Baseline{}
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	if n < 2 {
		return Baseline{Mean: mean, SampleSize: n}
	}

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return Baseline{
		Mean:       mean,
		StdDev:     math.Sqrt(sq / float64(n-1)),
		SampleSize: n,
	}
}

// baselineValues returns the trailing window of values preceding the newest point.
func baselineValues(h UtilityHistory, window int) []float64 {
	if len(h) < 2 {
		return nil
	}
	prior := h[:len(h)-1]
	if window > 0 && len(prior) > window {
		prior = prior[len(prior)-window:]
	}
	out := make([]float64, len(prior))
	for i, pt := range prior {
		out[i] = pt.Value
	}
	return out
}
