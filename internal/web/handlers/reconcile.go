package handlers

import (
	"log"
	"net/http"

	"github.com/classtrack/attendance-engine/internal/reconcile"
)

// ReconcileHandler exposes the absence reconciler for manual runs and
// scheduler monitoring.
type ReconcileHandler struct {
	reconciler *reconcile.AbsenceReconciler
	scheduler  *reconcile.Scheduler
}

// NewReconcileHandler creates a new reconcile handler.
func NewReconcileHandler(reconciler *reconcile.AbsenceReconciler, scheduler *reconcile.Scheduler) *ReconcileHandler {
	return &ReconcileHandler{reconciler: reconciler, scheduler: scheduler}
}

// Run handles POST /api/v1/reconciliation/run. It executes one pass
// immediately, independent of the scheduler's cadence and window.
func (h *ReconcileHandler) Run(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil {
		respondError(w, http.StatusServiceUnavailable, "reconciliation not configured")
		return
	}

	result, err := h.reconciler.RunPass(r.Context())
	if err != nil {
		log.Printf("reconcile: manual pass failed: %v", err)
		respondError(w, http.StatusInternalServerError, "reconciliation pass failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Status handles GET /api/v1/reconciliation/status.
func (h *ReconcileHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		respondError(w, http.StatusServiceUnavailable, "reconciliation not configured")
		return
	}
	respondJSON(w, http.StatusOK, h.scheduler.Status())
}
