package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/classtrack/attendance-engine/internal/extractor"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondExtractorError maps extractor failures to responses: a degraded
// model is 503, everything else is a gateway failure.
func respondExtractorError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, extractor.ErrModelUnavailable) {
		respondError(w, http.StatusServiceUnavailable, "face model unavailable")
		return
	}
	log.Printf("%s: extractor error: %v", op, err)
	respondError(w, http.StatusBadGateway, "face extraction failed")
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
