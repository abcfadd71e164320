package handlers

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"

	"github.com/classtrack/attendance-engine/internal/config"
	"github.com/classtrack/attendance-engine/internal/extractor"
	"github.com/classtrack/attendance-engine/internal/recognition"
	"github.com/classtrack/attendance-engine/internal/store"
)

// IdentityHandler handles enrollment of student reference embeddings.
type IdentityHandler struct {
	cfg        *config.Config
	extractor  extractor.FaceExtractor
	gate       *recognition.QualityGate
	identities store.IdentityWriter
	index      *store.IdentityIndex
}

// NewIdentityHandler creates a new identity handler.
func NewIdentityHandler(
	cfg *config.Config,
	ext extractor.FaceExtractor,
	gate *recognition.QualityGate,
	identities store.IdentityWriter,
	index *store.IdentityIndex,
) *IdentityHandler {
	return &IdentityHandler{
		cfg:        cfg,
		extractor:  ext,
		gate:       gate,
		identities: identities,
		index:      index,
	}
}

// EnrollRequest represents a registration capture for a student.
type EnrollRequest struct {
	StudentID string `json:"student_id"`
	Image     string `json:"image"` // base64-encoded frame
}

// EnrollResponse reports the stored enrollment.
type EnrollResponse struct {
	StudentID      string   `json:"student_id"`
	Dim            int      `json:"dim"`
	CaptureQuality float64  `json:"capture_quality"`
	Replaced       bool     `json:"replaced"`
	Reasons        []string `json:"reasons,omitempty"`
}

// Enroll handles POST /api/v1/identities. Registration applies the strict
// confidence floor; a frame good enough for matching may still be rejected
// here.
func (h *IdentityHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.StudentID == "" {
		respondError(w, http.StatusBadRequest, "student_id is required")
		return
	}
	if req.Image == "" {
		respondError(w, http.StatusBadRequest, "image is required")
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, "image must be base64-encoded")
		return
	}
	frame, err := recognition.PrepareFrame(data, h.cfg.Detection.MaxDecodeDim)
	if err != nil {
		respondError(w, http.StatusBadRequest, "image could not be decoded")
		return
	}

	detections, err := h.extractor.Detect(r.Context(), frame.Data)
	if err != nil {
		respondExtractorError(w, err, "enroll")
		return
	}
	if len(detections) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "no face detected")
		return
	}
	if len(detections) > 1 {
		respondError(w, http.StatusUnprocessableEntity, "multiple faces detected, enrollment needs exactly one")
		return
	}

	det := detections[0]
	gate := h.gate.Check(det, frame.Width, frame.Height, frame.Scale, recognition.ModeRegistration)
	if !gate.Accepted {
		respondJSON(w, http.StatusUnprocessableEntity, EnrollResponse{
			StudentID: req.StudentID,
			Reasons:   gate.Reasons,
		})
		return
	}

	embedding, err := h.extractor.Embed(r.Context(), frame.Data, det.BBox)
	if err != nil {
		respondExtractorError(w, err, "enroll")
		return
	}

	existing, err := h.identities.GetByStudent(r.Context(), req.StudentID)
	if err != nil {
		log.Printf("enroll: checking existing identity for %s: %v", sanitizeForLog(req.StudentID), err)
		respondError(w, http.StatusInternalServerError, "failed to check existing enrollment")
		return
	}

	identity := store.EnrolledIdentity{
		StudentID:      req.StudentID,
		Embedding:      embedding,
		Dim:            len(embedding),
		CaptureQuality: det.Confidence,
	}
	if err := h.identities.Enroll(r.Context(), identity); err != nil {
		log.Printf("enroll: storing identity for %s: %v", sanitizeForLog(req.StudentID), err)
		respondError(w, http.StatusInternalServerError, "failed to store enrollment")
		return
	}
	if h.index != nil {
		h.index.Add(identity)
	}

	respondJSON(w, http.StatusCreated, EnrollResponse{
		StudentID:      req.StudentID,
		Dim:            len(embedding),
		CaptureQuality: det.Confidence,
		Replaced:       existing != nil,
	})
}
