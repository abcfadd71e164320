package handlers

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/classtrack/attendance-engine/internal/allocator"
	"github.com/classtrack/attendance-engine/internal/config"
	"github.com/classtrack/attendance-engine/internal/extractor"
	"github.com/classtrack/attendance-engine/internal/recognition"
	"github.com/classtrack/attendance-engine/internal/store"
)

// candidateLimit is how many nearest identities are scored per capture.
const candidateLimit = 10

// CaptureHandler handles camera frame submissions: live quality feedback and
// final match decisions that mark attendance.
type CaptureHandler struct {
	cfg        *config.Config
	extractor  extractor.FaceExtractor
	gate       *recognition.QualityGate
	scorer     *recognition.MatchScorer
	index      *store.IdentityIndex
	identities store.IdentityReader
	schedule   store.ScheduleReader // nil when no SIS is configured
	alloc      *allocator.RecordAllocator
	now        func() time.Time
}

// NewCaptureHandler creates a new capture handler.
func NewCaptureHandler(
	cfg *config.Config,
	ext extractor.FaceExtractor,
	gate *recognition.QualityGate,
	scorer *recognition.MatchScorer,
	index *store.IdentityIndex,
	identities store.IdentityReader,
	schedule store.ScheduleReader,
	alloc *allocator.RecordAllocator,
) *CaptureHandler {
	return &CaptureHandler{
		cfg:        cfg,
		extractor:  ext,
		gate:       gate,
		scorer:     scorer,
		index:      index,
		identities: identities,
		schedule:   schedule,
		alloc:      alloc,
		now:        time.Now,
	}
}

// CaptureRequest represents a final capture submission.
type CaptureRequest struct {
	Image      string `json:"image"` // base64-encoded frame
	SubjectID  string `json:"subject_id"`
	CapturedAt string `json:"captured_at,omitempty"` // RFC3339, defaults to now
}

// GateStatus reports the quality gate decision for a frame.
type GateStatus struct {
	Accepted bool     `json:"accepted"`
	Reasons  []string `json:"reasons,omitempty"`
}

// AttendanceOutcome reports what happened to the attendance row.
type AttendanceOutcome struct {
	Outcome string `json:"outcome"`
	Status  string `json:"status"`
}

// CaptureResponse represents a final match decision.
type CaptureResponse struct {
	Matched    bool               `json:"matched"`
	StudentID  string             `json:"student_id,omitempty"`
	Similarity float64            `json:"similarity"`
	Quality    string             `json:"quality,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Gate       GateStatus         `json:"gate"`
	Attendance *AttendanceOutcome `json:"attendance,omitempty"`
}

// Submit handles POST /api/v1/captures. The frame goes through the quality
// gate and the scorer; a confident match marks attendance for the subject.
func (h *CaptureHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.SubjectID == "" {
		respondError(w, http.StatusBadRequest, "subject_id is required")
		return
	}

	capturedAt := h.now()
	if req.CapturedAt != "" {
		t, err := time.Parse(time.RFC3339, req.CapturedAt)
		if err != nil {
			respondError(w, http.StatusBadRequest, "captured_at must be RFC3339")
			return
		}
		capturedAt = t
	}

	probe, gate, ok := h.analyzeFrame(w, r, req.Image, recognition.ModeFinalMatch)
	if !ok {
		return
	}
	if !gate.Accepted {
		respondJSON(w, http.StatusUnprocessableEntity, CaptureResponse{
			Gate: GateStatus{Accepted: false, Reasons: gate.Reasons},
		})
		return
	}

	candidates, err := h.loadCandidates(r, probe)
	if err != nil {
		log.Printf("capture: loading candidates: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load enrolled identities")
		return
	}

	match := h.scorer.Score(probe, candidates, recognition.ModeFinalMatch)
	resp := CaptureResponse{
		Matched:    match.Matched,
		StudentID:  match.StudentID,
		Similarity: match.Similarity,
		Quality:    string(match.Quality),
		Reason:     match.Reason,
		Gate:       GateStatus{Accepted: true},
	}

	if !match.Matched {
		respondJSON(w, http.StatusOK, resp)
		return
	}

	status := h.markingStatus(r, req.SubjectID, capturedAt)
	similarity := match.Similarity
	outcome, err := h.alloc.MarkAttendance(r.Context(), store.AttendanceRecord{
		StudentID:  match.StudentID,
		SubjectID:  req.SubjectID,
		Date:       capturedAt,
		Status:     status,
		Method:     store.MethodFace,
		Confidence: &similarity,
	})
	if err != nil {
		log.Printf("capture: marking attendance for %s: %v", sanitizeForLog(match.StudentID), err)
		respondError(w, http.StatusInternalServerError, "failed to mark attendance")
		return
	}

	resp.Attendance = &AttendanceOutcome{
		Outcome: string(outcome),
		Status:  string(status),
	}
	respondJSON(w, http.StatusOK, resp)
}

// FeedbackRequest represents a live preview frame.
type FeedbackRequest struct {
	Image string `json:"image"`
}

// FeedbackResponse represents live capture feedback. Nothing is persisted.
type FeedbackResponse struct {
	Accepted   bool     `json:"accepted"`
	Reasons    []string `json:"reasons,omitempty"`
	Matched    bool     `json:"matched"`
	StudentID  string   `json:"student_id,omitempty"`
	Similarity float64  `json:"similarity,omitempty"`
	Quality    string   `json:"quality,omitempty"`
}

// Feedback handles POST /api/v1/captures/feedback. It runs the relaxed live
// thresholds so the client can guide the user before the final capture.
func (h *CaptureHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	probe, gate, ok := h.analyzeFrame(w, r, req.Image, recognition.ModeLiveFeedback)
	if !ok {
		return
	}
	if !gate.Accepted {
		respondJSON(w, http.StatusOK, FeedbackResponse{Accepted: false, Reasons: gate.Reasons})
		return
	}

	resp := FeedbackResponse{Accepted: true}
	candidates, err := h.loadCandidates(r, probe)
	if err != nil {
		// Feedback stays useful even when candidates cannot be loaded.
		log.Printf("capture feedback: loading candidates: %v", err)
		respondJSON(w, http.StatusOK, resp)
		return
	}

	match := h.scorer.Score(probe, candidates, recognition.ModeLiveFeedback)
	resp.Matched = match.Matched
	resp.StudentID = match.StudentID
	resp.Similarity = match.Similarity
	resp.Quality = string(match.Quality)
	respondJSON(w, http.StatusOK, resp)
}

// analyzeFrame decodes the image, runs detection and the quality gate, and
// embeds the best face. It writes the error response itself when ok=false
// and the gate was not the cause.
func (h *CaptureHandler) analyzeFrame(
	w http.ResponseWriter, r *http.Request, image string, mode recognition.CaptureMode,
) ([]float32, recognition.GateResult, bool) {
	var gate recognition.GateResult

	if image == "" {
		respondError(w, http.StatusBadRequest, "image is required")
		return nil, gate, false
	}
	data, err := base64.StdEncoding.DecodeString(image)
	if err != nil {
		respondError(w, http.StatusBadRequest, "image must be base64-encoded")
		return nil, gate, false
	}

	frame, err := recognition.PrepareFrame(data, h.cfg.Detection.MaxDecodeDim)
	if err != nil {
		respondError(w, http.StatusBadRequest, "image could not be decoded")
		return nil, gate, false
	}

	detections, err := h.extractor.Detect(r.Context(), frame.Data)
	if err != nil {
		respondExtractorError(w, err, "capture")
		return nil, gate, false
	}
	if len(detections) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "no face detected")
		return nil, gate, false
	}

	best := bestDetection(detections)
	gate = h.gate.Check(best, frame.Width, frame.Height, frame.Scale, mode)
	if !gate.Accepted {
		return nil, gate, true
	}

	probe, err := h.extractor.Embed(r.Context(), frame.Data, best.BBox)
	if err != nil {
		respondExtractorError(w, err, "capture")
		return nil, gate, false
	}
	return probe, gate, true
}

// loadCandidates returns scorer candidates near the probe, preferring the
// in-memory index and falling back to the database.
func (h *CaptureHandler) loadCandidates(r *http.Request, probe []float32) ([]recognition.Candidate, error) {
	if h.index != nil && h.index.Count() > 0 {
		identities, _, err := h.index.Search(probe, candidateLimit)
		if err == nil {
			return toCandidates(identities), nil
		}
		log.Printf("capture: index search failed, falling back to database: %v", err)
	}

	identities, _, err := h.identities.FindSimilar(r.Context(), probe, candidateLimit)
	if err != nil {
		return nil, err
	}
	return toCandidates(identities), nil
}

func toCandidates(identities []store.EnrolledIdentity) []recognition.Candidate {
	candidates := make([]recognition.Candidate, 0, len(identities))
	for _, id := range identities {
		candidates = append(candidates, recognition.Candidate{
			StudentID: id.StudentID,
			Embedding: id.Embedding,
		})
	}
	return candidates
}

func bestDetection(detections []recognition.Detection) recognition.Detection {
	best := detections[0]
	for _, d := range detections[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best
}

// markingStatus decides present vs late from the subject's session start and
// the grace period. Without a timetable the check-in counts as present.
func (h *CaptureHandler) markingStatus(r *http.Request, subjectID string, capturedAt time.Time) store.AttendanceStatus {
	if h.schedule == nil {
		return store.StatusPresent
	}

	sessions, err := h.schedule.SessionsForDay(r.Context(), capturedAt.Weekday())
	if err != nil {
		log.Printf("capture: loading sessions: %v", err)
		return store.StatusPresent
	}
	for _, sess := range sessions {
		if sess.SubjectID != subjectID {
			continue
		}
		start, err := sess.SessionStart(capturedAt)
		if err != nil {
			continue
		}
		if capturedAt.After(start.Add(h.cfg.Marking.LateGrace)) {
			return store.StatusLate
		}
		return store.StatusPresent
	}
	return store.StatusPresent
}
