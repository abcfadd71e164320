package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/classtrack/attendance-engine/internal/allocator"
)

// SequenceHandler handles human-readable record code allocation.
type SequenceHandler struct {
	alloc *allocator.RecordAllocator
}

// NewSequenceHandler creates a new sequence handler.
func NewSequenceHandler(alloc *allocator.RecordAllocator) *SequenceHandler {
	return &SequenceHandler{alloc: alloc}
}

// AllocateRequest represents a code allocation request.
type AllocateRequest struct {
	Prefix string `json:"prefix"`
	Year   int    `json:"year"`
}

// AllocateResponse carries the allocated code.
type AllocateResponse struct {
	Code string `json:"code"`
}

// Allocate handles POST /api/v1/sequence. Retry exhaustion under extreme
// contention surfaces as a 503 so clients can back off and retry.
func (h *SequenceHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Prefix == "" {
		respondError(w, http.StatusBadRequest, "prefix is required")
		return
	}
	if req.Year < 1000 || req.Year > 9999 {
		respondError(w, http.StatusBadRequest, "year must be four digits")
		return
	}

	code, err := h.alloc.AllocateSequenceID(r.Context(), req.Prefix, req.Year)
	if err != nil {
		if errors.Is(err, allocator.ErrAllocationExhausted) {
			respondError(w, http.StatusServiceUnavailable, "allocation contention, try again")
			return
		}
		log.Printf("sequence: allocating %s%d: %v", sanitizeForLog(req.Prefix), req.Year, err)
		respondError(w, http.StatusInternalServerError, "failed to allocate code")
		return
	}

	respondJSON(w, http.StatusCreated, AllocateResponse{Code: code})
}
