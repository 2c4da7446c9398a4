// Package analysis aggregates protocol results into summary statistics and
// plottable series. It performs no simulation itself: everything here is a
// pure function of the supplied results.
package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/quantumshield/qkdsim/qkd"
)

// A Summary holds aggregate statistics over a set of protocol runs.
type Summary struct {
	Trials int

	QBERMean     float64
	QBERVariance float64
	QBERStdDev   float64
	QBERMin      float64
	QBERMax      float64

	KeyRateMean   float64
	KeyRateStdDev float64
	KeyRateMin    float64
	KeyRateMax    float64

	MeanFinalKeyBits float64

	// DetectionRate is the fraction of runs that aborted with
	// EavesdroppingDetected; AbortRate counts aborts of any kind.
	DetectionRate float64
	AbortRate     float64
}

// Summarize aggregates results. An empty slice yields the zero Summary.
func Summarize(results []qkd.Result) Summary {
	if len(results) == 0 {
		return Summary{}
	}

	qbers := make([]float64, len(results))
	rates := make([]float64, len(results))
	keyBits := make([]float64, len(results))
	detected, aborted := 0, 0
	for i, r := range results {
		qbers[i] = r.QBER
		rates[i] = r.SecureKeyRate
		keyBits[i] = float64(r.FinalKeyBits)
		if r.EavesdroppingDetected {
			detected++
		}
		if r.Aborted {
			aborted++
		}
	}

	n := float64(len(results))
	return Summary{
		Trials:           len(results),
		QBERMean:         stat.Mean(qbers, nil),
		QBERVariance:     stat.Variance(qbers, nil),
		QBERStdDev:       stat.StdDev(qbers, nil),
		QBERMin:          floats.Min(qbers),
		QBERMax:          floats.Max(qbers),
		KeyRateMean:      stat.Mean(rates, nil),
		KeyRateStdDev:    stat.StdDev(rates, nil),
		KeyRateMin:       floats.Min(rates),
		KeyRateMax:       floats.Max(rates),
		MeanFinalKeyBits: stat.Mean(keyBits, nil),
		DetectionRate:    float64(detected) / n,
		AbortRate:        float64(aborted) / n,
	}
}

// A Point pairs a swept parameter value (distance, intercept fraction, noise
// level) with an aggregate over the trials run at that value.
type Point struct {
	Param float64
	Value float64
}

// KeyRateSeries pairs each parameter with the mean secure key rate of its
// trial group, for external plotting. params and groups must have equal
// length.
func KeyRateSeries(params []float64, groups [][]qkd.Result) ([]Point, error) {
	return series(params, groups, func(s Summary) float64 { return s.KeyRateMean })
}

// DetectionSeries pairs each parameter with the fraction of its trials that
// detected eavesdropping.
func DetectionSeries(params []float64, groups [][]qkd.Result) ([]Point, error) {
	return series(params, groups, func(s Summary) float64 { return s.DetectionRate })
}

func series(params []float64, groups [][]qkd.Result, f func(Summary) float64) ([]Point, error) {
	if len(params) != len(groups) {
		return nil, fmt.Errorf("series over %d parameters but %d trial groups", len(params), len(groups))
	}
	points := make([]Point, len(params))
	for i := range params {
		points[i] = Point{Param: params[i], Value: f(Summarize(groups[i]))}
	}
	return points, nil
}

// KeyRateTrend fits an ordinary least squares line value = alpha + beta*param
// through a series; for a distance sweep, beta estimates the key-rate decay
// per kilometer.
func KeyRateTrend(points []Point) (alpha, beta float64) {
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.Param
		ys[i] = p.Value
	}
	return stat.LinearRegression(xs, ys, nil, false)
}

// QBERInterval returns the normal-approximation confidence interval for a
// QBER estimated from sampleSize disclosed bits, clamped to [0, 1].
// confidence is the two-sided coverage, e.g. 0.95.
func QBERInterval(qber float64, sampleSize int, confidence float64) (lo, hi float64) {
	if sampleSize <= 0 {
		return 0, 1
	}
	z := distuv.UnitNormal.Quantile(1 - (1-confidence)/2)
	se := math.Sqrt(qber * (1 - qber) / float64(sampleSize))
	lo = math.Max(0, qber-z*se)
	hi = math.Min(1, qber+z*se)
	return lo, hi
}
