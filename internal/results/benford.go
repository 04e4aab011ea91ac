package results

import "math"

// DigitStat compares how often a leading digit occurred with Benford's law.
type DigitStat struct {
	Digit       int     `json:"digit"`
	Observed    int     `json:"observed"`
	ObservedPct float64 `json:"observed_pct"`
	ExpectedPct float64 `json:"expected_pct"`
}

// BenfordSummary is the first-digit distribution of the resolved counts.
type BenfordSummary struct {
	Total  int          `json:"total"`
	Digits [9]DigitStat `json:"digits"`
}

// Benford tallies the leading digits of every row with a count.
func Benford(rows []Row) BenfordSummary {
	var b BenfordSummary
	for i := range b.Digits {
		d := i + 1
		b.Digits[i] = DigitStat{Digit: d, ExpectedPct: BenfordExpected(d)}
	}
	for _, r := range rows {
		if r.FirstDigit >= 1 && r.FirstDigit <= 9 {
			b.Digits[r.FirstDigit-1].Observed++
			b.Total++
		}
	}
	if b.Total > 0 {
		for i := range b.Digits {
			b.Digits[i].ObservedPct = float64(b.Digits[i].Observed) / float64(b.Total) * 100
		}
	}
	return b
}

// BenfordExpected is log10(1 + 1/d) as a percentage.
func BenfordExpected(d int) float64 {
	if d < 1 || d > 9 {
		return 0
	}
	return math.Log10(1+1/float64(d)) * 100
}

// MeanAbsoluteDeviation is the average gap, in percentage points, between the
// observed and expected distributions.
func (b BenfordSummary) MeanAbsoluteDeviation() float64 {
	if b.Total == 0 {
		return 0
	}
	var sum float64
	for _, d := range b.Digits {
		sum += math.Abs(d.ObservedPct - d.ExpectedPct)
	}
	return sum / float64(len(b.Digits))
}
