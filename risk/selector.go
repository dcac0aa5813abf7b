package risk

// SelectSafest returns the index of the lowest score, the first one on ties,
// or -1 when there are no scores.
func SelectSafest(scores []float64) int {
	best := -1
	for i, s := range scores {
		if best == -1 || s < scores[best] {
			best = i
		}
	}
	return best
}

// SafestAssessment applies SelectSafest to evaluated routes.
func SafestAssessment(assessments []Assessment) int {
	scores := make([]float64, len(assessments))
	for i, a := range assessments {
		scores[i] = a.Score
	}
	return SelectSafest(scores)
}
