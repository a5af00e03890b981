package objdet

import (
	"strings"

	munkres "github.com/charles-haynes/munkres"
	"github.com/pkg/errors"
)

// NoMatch is the prediction index of a detection without matched prediction
const NoMatch = -1

// Match pairs a detection with the best prediction for it (or with nothing).
type Match struct {
	DetectionIdx  int
	PredictionIdx int
	// Overlap ratio in [0, 1]. Zero when PredictionIdx is NoMatch
	Score float64
}

// Matched reports whether detection got a prediction
func (m Match) Matched() bool {
	return m.PredictionIdx != NoMatch
}

// Matcher pairs current detections with predictions.
// Implementations must return exactly one Match per detection, in detection order.
type Matcher interface {
	Match(detections []Detection, predictions []Prediction) []Match
}

// MatchingAlgorithm is for algorithm type for matching detections to predictions
type MatchingAlgorithm uint16

const (
	// MatchingAlgorithmGreedy picks the best prediction for every detection independently.
	// The same prediction may be picked by several detections.
	MatchingAlgorithmGreedy MatchingAlgorithm = iota
	// MatchingAlgorithmHungarian uses the Hungarian algorithm (Kuhn-Munkres) for optimal one-to-one assignment
	MatchingAlgorithmHungarian
)

func (algorithm MatchingAlgorithm) String() string {
	switch algorithm {
	case MatchingAlgorithmGreedy:
		return "greedy"
	case MatchingAlgorithmHungarian:
		return "hungarian"
	default:
		return "unknown"
	}
}

// ParseMatchingAlgorithm converts name into MatchingAlgorithm. Empty name means greedy.
func ParseMatchingAlgorithm(name string) (MatchingAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "greedy":
		return MatchingAlgorithmGreedy, nil
	case "hungarian", "munkres":
		return MatchingAlgorithmHungarian, nil
	default:
		return MatchingAlgorithmGreedy, errors.Wrapf(ErrInvalidConfig, "unknown matching algorithm '%s'", name)
	}
}

// OverlapMatcher matches detections to predictions of the same class
// where the overlap covers at least minOverlap percent of both boxes.
type OverlapMatcher struct {
	// Minimum overlap in percents [0-100]
	minOverlap int
	// Algorithm to use for matching
	algorithm MatchingAlgorithm
}

// NewDefaultOverlapMatcher creates greedy matcher with 50% minimum overlap
func NewDefaultOverlapMatcher() *OverlapMatcher {
	return &OverlapMatcher{
		minOverlap: DefaultMinOverlapPercent,
		algorithm:  MatchingAlgorithmGreedy,
	}
}

// NewOverlapMatcher creates matcher. minOverlapPercent is clamped into [0, 100].
func NewOverlapMatcher(minOverlapPercent int, algorithm MatchingAlgorithm) *OverlapMatcher {
	return &OverlapMatcher{
		minOverlap: clampInt(minOverlapPercent, 0, 100),
		algorithm:  algorithm,
	}
}

// MinOverlap returns minimum overlap in percents
func (matcher *OverlapMatcher) MinOverlap() int {
	return matcher.minOverlap
}

// SetMinOverlap updates minimum overlap (clamped into [0, 100])
func (matcher *OverlapMatcher) SetMinOverlap(minOverlapPercent int) {
	matcher.minOverlap = clampInt(minOverlapPercent, 0, 100)
}

// Algorithm returns configured matching algorithm
func (matcher *OverlapMatcher) Algorithm() MatchingAlgorithm {
	return matcher.algorithm
}

// Match implements Matcher
func (matcher *OverlapMatcher) Match(detections []Detection, predictions []Prediction) []Match {
	switch matcher.algorithm {
	case MatchingAlgorithmHungarian:
		return matcher.matchHungarian(detections, predictions)
	default:
		return matcher.matchGreedy(detections, predictions)
	}
}

// qualifies returns overlap ratio and whether the pair may be matched at all
func (matcher *OverlapMatcher) qualifies(detection Detection, prediction Prediction) (float64, bool) {
	if detection.ClassID != prediction.ClassID {
		return 0, false
	}
	ratio := OverlapRatio(detection.BBox, prediction.BBox)
	if ratio*100.0 < float64(matcher.minOverlap) {
		return ratio, false
	}
	// Zero threshold still needs boxes to overlap or at least touch
	if ratio == 0 && !detection.BBox.Touches(prediction.BBox) {
		return ratio, false
	}
	return ratio, true
}

func (matcher *OverlapMatcher) matchGreedy(detections []Detection, predictions []Prediction) []Match {
	matches := make([]Match, len(detections))
	for i := range detections {
		best := Match{DetectionIdx: i, PredictionIdx: NoMatch}
		// Lower than any possible ratio, so zero-ratio (touching) pairs can win too
		bestScore := -1.0
		for j := range predictions {
			ratio, ok := matcher.qualifies(detections[i], predictions[j])
			if !ok {
				continue
			}
			// Strict comparison: on equal score the first seen prediction wins
			if ratio > bestScore {
				bestScore = ratio
				best.PredictionIdx = j
				best.Score = ratio
			}
		}
		matches[i] = best
	}
	return matches
}

func (matcher *OverlapMatcher) matchHungarian(detections []Detection, predictions []Prediction) []Match {
	matches := make([]Match, len(detections))
	for i := range matches {
		matches[i] = Match{DetectionIdx: i, PredictionIdx: NoMatch}
	}
	if len(detections) == 0 || len(predictions) == 0 {
		return matches
	}

	ratios := make([][]float64, len(detections))
	allowed := make([][]bool, len(detections))
	anyAllowed := false
	for i := range detections {
		ratios[i] = make([]float64, len(predictions))
		allowed[i] = make([]bool, len(predictions))
		for j := range predictions {
			ratio, ok := matcher.qualifies(detections[i], predictions[j])
			ratios[i][j] = ratio
			allowed[i][j] = ok
			anyAllowed = anyAllowed || ok
		}
	}
	if !anyAllowed {
		return matches
	}

	assignments, err := assignMaxOverlap(ratios, allowed)
	if err != nil {
		return matches
	}
	for detIdx, predIdx := range assignments {
		if predIdx == NoMatch {
			continue
		}
		matches[detIdx] = Match{
			DetectionIdx:  detIdx,
			PredictionIdx: predIdx,
			Score:         ratios[detIdx][predIdx],
		}
	}
	return matches
}

// assignMaxOverlap solves the one-to-one assignment over a detections x predictions grid.
// It maximizes the number of allowed pairs first and the summed ratio second.
// Result is indexed by row; NoMatch marks rows left without an allowed column.
func assignMaxOverlap(ratios [][]float64, allowed [][]bool) ([]int, error) {
	rows := len(ratios)
	if rows == 0 {
		return []int{}, nil
	}
	cols := len(ratios[0])
	result := make([]int, rows)
	for i := range result {
		result[i] = NoMatch
	}
	if cols == 0 {
		return result, nil
	}
	// An allowed pair costs at most 1. A forbidden one costs more than any full
	// assignment of allowed pairs, so trading one matched pair for overlap never pays.
	forbidden := float64(minInt(rows, cols) + 1)
	costMatrix := make([][]float64, rows)
	for i := range ratios {
		costMatrix[i] = make([]float64, cols)
		for j := range ratios[i] {
			if allowed[i][j] {
				costMatrix[i][j] = 1.0 - ratios[i][j]
			} else {
				costMatrix[i][j] = forbidden
			}
		}
	}
	solver, err := munkres.NewHungarianAlgorithm(costMatrix)
	if err != nil {
		return nil, errors.Wrap(err, "can't prepare assignment solver")
	}
	assignments := solver.Execute()
	for i := range result {
		if i >= len(assignments) {
			continue
		}
		j := assignments[i]
		// Drop columns the solver filled with forbidden pairs
		if j < 0 || j >= cols || !allowed[i][j] {
			continue
		}
		result[i] = j
	}
	return result, nil
}
