package recognition

import (
	"github.com/classtrack/attendance-engine/internal/config"
)

// CaptureMode selects which thresholds apply to a capture decision.
type CaptureMode string

const (
	ModeRegistration CaptureMode = "registration"
	ModeLiveFeedback CaptureMode = "live-feedback"
	ModeFinalMatch   CaptureMode = "final-match"
)

// Reason codes returned for failed quality checks. Surfaced to clients for
// UI feedback; never used for control flow here.
const (
	ReasonLowConfidence  = "low_confidence"
	ReasonFaceTooSmallPx = "face_too_small_px"
	ReasonFaceTooSmall   = "face_too_small"
	ReasonFaceTooLarge   = "face_too_large"
	ReasonOffCenter      = "off_center"
)

// Detection is one detected face region as reported by the extractor, in the
// coordinate system of the (possibly downscaled) frame it was computed on.
type Detection struct {
	BBox       [4]float64 // x1, y1, x2, y2 in pixels
	Confidence float64
}

// Width returns the bounding box width in pixels.
func (d Detection) Width() float64 { return d.BBox[2] - d.BBox[0] }

// Height returns the bounding box height in pixels.
func (d Detection) Height() float64 { return d.BBox[3] - d.BBox[1] }

// GateResult is the outcome of the quality gate: accept, or reject with one
// reason per failed check.
type GateResult struct {
	Accepted bool
	Reasons  []string
}

// QualityGate validates a detected face against geometric and confidence
// thresholds before it is used for matching or enrollment. Pure validation,
// no side effects.
type QualityGate struct {
	cfg config.DetectionConfig
}

// NewQualityGate creates a quality gate with the given thresholds.
func NewQualityGate(cfg config.DetectionConfig) *QualityGate {
	return &QualityGate{cfg: cfg}
}

// Check runs every gate check and collects the reasons for the ones that
// fail. frameW and frameH are the dimensions of the frame the detection was
// computed on; scale is the downscale factor applied to the original frame
// (1.0 when none). The pixel-size floor is scaled by the same factor so that
// downscaling never changes which checks pass; the area and offset checks
// are ratios and scale-invariant by construction.
func (g *QualityGate) Check(det Detection, frameW, frameH int, scale float64, mode CaptureMode) GateResult {
	var reasons []string

	minConfidence := g.cfg.MinConfidence
	if mode == ModeRegistration {
		minConfidence = g.cfg.RegistrationConfidence
	}
	if det.Confidence < minConfidence {
		reasons = append(reasons, ReasonLowConfidence)
	}

	if scale <= 0 || scale > 1 {
		scale = 1
	}
	minSize := float64(g.cfg.MinFaceSizePx) * scale
	if det.Width() < minSize || det.Height() < minSize {
		reasons = append(reasons, ReasonFaceTooSmallPx)
	}

	frameArea := float64(frameW) * float64(frameH)
	if frameArea > 0 {
		areaPercent := det.Width() * det.Height() / frameArea * 100

		if areaPercent < g.cfg.MinFaceAreaPercent {
			reasons = append(reasons, ReasonFaceTooSmall)
		}
		if areaPercent > g.cfg.MaxFaceAreaPercent {
			reasons = append(reasons, ReasonFaceTooLarge)
		}

		centerX := (det.BBox[0] + det.BBox[2]) / 2
		centerY := (det.BBox[1] + det.BBox[3]) / 2
		offsetX := (centerX - float64(frameW)/2) / float64(frameW)
		offsetY := (centerY - float64(frameH)/2) / float64(frameH)
		if maxAbs(offsetX, offsetY) > g.cfg.MaxCenterOffset {
			reasons = append(reasons, ReasonOffCenter)
		}
	}

	return GateResult{Accepted: len(reasons) == 0, Reasons: reasons}
}

func maxAbs(a, b float64) float64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a > b {
		return a
	}
	return b
}
