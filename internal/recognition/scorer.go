package recognition

import (
	"github.com/classtrack/attendance-engine/internal/config"
)

// QualityLabel buckets a winning similarity for display. It has no effect on
// whether a match is accepted.
type QualityLabel string

const (
	QualityExcellent QualityLabel = "excellent"
	QualityGood      QualityLabel = "good"
	QualityFair      QualityLabel = "fair"
)

// NoMatch reason codes.
const (
	NoMatchNoCandidates   = "no_candidates"
	NoMatchDegenerateNorm = "degenerate_probe"
	NoMatchBelowThreshold = "below_threshold"
	NoMatchAmbiguous      = "ambiguous"
)

// Candidate is one enrolled embedding the probe is compared against.
type Candidate struct {
	StudentID string
	Embedding []float32
}

// MatchResult is the identity decision for a probe.
type MatchResult struct {
	Matched    bool
	StudentID  string // set only when Matched
	Similarity float64
	Quality    QualityLabel
	Reason     string // set only when not matched
}

// MatchScorer compares a probe embedding against enrolled candidates and
// classifies the result. Thresholds are policy from configuration, never
// baked into the logic.
type MatchScorer struct {
	cfg config.MatchingConfig
}

// NewMatchScorer creates a scorer with the given thresholds.
func NewMatchScorer(cfg config.MatchingConfig) *MatchScorer {
	return &MatchScorer{cfg: cfg}
}

// Threshold returns the acceptance threshold for a capture mode. Only the
// final-match threshold may gate a persisted attendance decision; the
// live-feedback threshold exists for provisional UI feedback.
func (s *MatchScorer) Threshold(mode CaptureMode) float64 {
	if mode == ModeLiveFeedback {
		return s.cfg.LiveThreshold
	}
	return s.cfg.MatchThreshold
}

// Score selects the candidate with maximum cosine similarity to the probe
// and applies the mode's threshold. An empty candidate set is a NoMatch, not
// an error. A probe whose own norm falls below the configured floor is
// rejected outright (degenerate embeddings from poor captures otherwise
// produce unstable similarities). Two candidates tied at the maximal
// similarity resolve to NoMatch: ambiguity must never silently pick an
// arbitrary identity.
func (s *MatchScorer) Score(probe []float32, candidates []Candidate, mode CaptureMode) MatchResult {
	if len(candidates) == 0 {
		return MatchResult{Reason: NoMatchNoCandidates}
	}

	if Norm(probe) < s.cfg.MinEmbeddingNorm {
		return MatchResult{Reason: NoMatchDegenerateNorm}
	}

	best := -1
	bestSim := -2.0
	tied := false
	for i := range candidates {
		sim := CosineSimilarity(probe, candidates[i].Embedding)
		switch {
		case sim > bestSim:
			best, bestSim, tied = i, sim, false
		case sim == bestSim && candidates[i].StudentID != candidates[best].StudentID:
			tied = true
		}
	}

	if tied {
		return MatchResult{Similarity: bestSim, Reason: NoMatchAmbiguous}
	}

	if bestSim < s.Threshold(mode) {
		return MatchResult{Similarity: bestSim, Reason: NoMatchBelowThreshold}
	}

	return MatchResult{
		Matched:    true,
		StudentID:  candidates[best].StudentID,
		Similarity: bestSim,
		Quality:    s.qualityLabel(bestSim),
	}
}

// qualityLabel buckets a similarity value against the two display cutoffs.
func (s *MatchScorer) qualityLabel(similarity float64) QualityLabel {
	switch {
	case similarity >= s.cfg.ExcellentThreshold:
		return QualityExcellent
	case similarity >= s.cfg.GoodThreshold:
		return QualityGood
	default:
		return QualityFair
	}
}
