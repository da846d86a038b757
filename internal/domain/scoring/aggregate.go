package scoring

import (
	"fmt"
	"math"
	"slices"
)

// Dimension names one axis the scorer grades a user utterance on.
type Dimension string

const (
	Vocab   Dimension = "vocab"
	Grammar Dimension = "grammar"
	Idiom   Dimension = "idiom"
	Polite  Dimension = "polite"
	Context Dimension = "context"
)

// Dimensions is the fixed, ordered set of scored dimensions.
var Dimensions = []Dimension{Vocab, Grammar, Idiom, Polite, Context}

// ParseDimension validates a dimension name.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(s)
	if slices.Contains(Dimensions, d) {
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDimension, s)
}

// Score is one scorer verdict for one dimension of one message.
type Score struct {
	Level       Level  `json:"score"`
	Explanation string `json:"explanation,omitempty"`
}

// Scores maps dimension to verdict. A message may carry any subset.
type Scores map[Dimension]Score

// Stat is the robust summary of one dimension over a session.
type Stat struct {
	Median float64 `json:"median"`
	MAD    float64 `json:"mad"`
	N      int     `json:"n"`
}

// Summary holds a Stat for every dimension that had at least one score.
// Dimensions without scores are absent, never zero-valued.
type Summary map[Dimension]Stat

// Aggregate folds per-message scores into a Summary. Each element of
// scored is the score map of one user message; nil maps are skipped.
// It returns nil when no element carries any score.
func Aggregate(scored []Scores) Summary {
	collected := make(map[Dimension][]int, len(Dimensions))
	for _, s := range scored {
		for _, d := range Dimensions {
			if sc, ok := s[d]; ok {
				collected[d] = append(collected[d], int(sc.Level))
			}
		}
	}
	if len(collected) == 0 {
		return nil
	}

	out := make(Summary, len(collected))
	for d, vals := range collected {
		med := Median(vals)
		out[d] = Stat{Median: med, MAD: MAD(vals, med), N: len(vals)}
	}
	return out
}

// Median returns the median of vals, averaging the two middle elements
// when len(vals) is even. vals is not modified. Median of nothing is NaN.
func Median[T ~int | ~float64](vals []T) float64 {
	n := len(vals)
	if n == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(vals)
	slices.Sort(sorted)
	if n%2 == 0 {
		return (float64(sorted[n/2-1]) + float64(sorted[n/2])) / 2
	}
	return float64(sorted[n/2])
}

// MAD is the median absolute deviation of vals around med.
func MAD(vals []int, med float64) float64 {
	dev := make([]float64, len(vals))
	for i, v := range vals {
		dev[i] = math.Abs(float64(v) - med)
	}
	return Median(dev)
}
