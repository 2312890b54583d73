// Package profiling summarizes response and residual samples.
package profiling

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Profile is the shape summary of one sample.
type Profile struct {
	N        int     `json:"n"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Median   float64 `json:"median"`
	Q025     float64 `json:"q025"`
	Q25      float64 `json:"q25"`
	Q75      float64 `json:"q75"`
	Q975     float64 `json:"q975"`
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"`
	IsNormal bool    `json:"is_normal"`
	NormalP  float64 `json:"normal_p"`
	Outliers int     `json:"outliers"`
}

// Analyze computes the summary statistics, moments and a normality check.
func Analyze(data []float64) (Profile, error) {
	p := Profile{N: len(data)}

	mean, err := stats.Mean(data)
	if err != nil {
		return p, err
	}
	// population sd; residual spread, not an estimator
	stdDev, err := stats.StandardDeviationPopulation(data)
	if err != nil {
		return p, err
	}
	min, err := stats.Min(data)
	if err != nil {
		return p, err
	}
	max, err := stats.Max(data)
	if err != nil {
		return p, err
	}
	median, err := stats.Median(data)
	if err != nil {
		return p, err
	}

	pct := make([]float64, 4)
	for i, q := range []float64{2.5, 25, 75, 97.5} {
		if pct[i], err = stats.PercentileNearestRank(data, q); err != nil {
			return p, err
		}
	}

	p.Mean, p.StdDev, p.Min, p.Max, p.Median = mean, stdDev, min, max, median
	p.Q025, p.Q25, p.Q75, p.Q975 = pct[0], pct[1], pct[2], pct[3]
	p.Skewness = skewness(data, mean, stdDev)
	p.Kurtosis = kurtosis(data, mean, stdDev)
	p.IsNormal, p.NormalP = normality(p.Skewness, p.Kurtosis, len(data))
	p.Outliers = outliers(data, p.Q25, p.Q75)
	return p, nil
}

// skewness is the adjusted Fisher-Pearson coefficient.
func skewness(data []float64, mean, sd float64) float64 {
	if len(data) < 3 || sd == 0 {
		return 0
	}
	n := float64(len(data))
	var m3 float64
	for _, x := range data {
		d := (x - mean) / sd
		m3 += d * d * d
	}
	return m3 / n * math.Sqrt(n*(n-1)) / (n - 2)
}

// kurtosis is the bias-corrected total (not excess) kurtosis.
func kurtosis(data []float64, mean, sd float64) float64 {
	if len(data) < 4 || sd == 0 {
		return 3
	}
	n := float64(len(data))
	var m4 float64
	for _, x := range data {
		d := (x - mean) / sd
		m4 += d * d * d * d
	}
	excess := m4/n - 3
	excess = excess*(n-1)/((n-2)*(n-3)) + 6/(n+1)
	return excess + 3
}

// normality is a Jarque-Bera test on the sample moments.
func normality(skew, kurt float64, n int) (bool, float64) {
	if n < 3 {
		return false, 1
	}
	jb := float64(n) / 6 * (skew*skew + (kurt-3)*(kurt-3)/4)
	p := 1 - distuv.ChiSquared{K: 2}.CDF(jb)
	return p > 0.05, p
}

// outliers counts points beyond 1.5 IQR of the quartiles.
func outliers(data []float64, q25, q75 float64) int {
	iqr := q75 - q25
	lo, hi := q25-1.5*iqr, q75+1.5*iqr
	var n int
	for _, x := range data {
		if x < lo || x > hi {
			n++
		}
	}
	return n
}
