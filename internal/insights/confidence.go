package insights

import "math"

const (
	confidenceSaturation = 100
	maxVariancePenalty   = 0.5
)

// Confidence grows with volume up to 1 and is cut by up to half when scores
// disagree, using the sample variance.
func Confidence(totalComments int, scores []float64) float64 {
	conf := math.Min(1, float64(totalComments)/confidenceSaturation)
	if len(scores) < 2 {
		return conf
	}

	var mean float64
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))

	var sq float64
	for _, s := range scores {
		sq += (s - mean) * (s - mean)
	}
	variance := sq / float64(len(scores)-1)

	penalty := math.Min(maxVariancePenalty, variance/4)
	return math.Max(0, conf*(1-penalty))
}

func predominantLabel(avg *float64) string {
	switch {
	case avg == nil:
		return PredominantNeutral
	case *avg > 0.1:
		return PredominantPositive
	case *avg < -0.1:
		return PredominantNegative
	default:
		return PredominantNeutral
	}
}
