package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/classtrack/attendance-engine/internal/allocator"
	"github.com/classtrack/attendance-engine/internal/store"
)

// AttendanceHandler handles manual attendance marking and listing.
type AttendanceHandler struct {
	alloc      *allocator.RecordAllocator
	attendance store.AttendanceReader
	now        func() time.Time
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(alloc *allocator.RecordAllocator, attendance store.AttendanceReader) *AttendanceHandler {
	return &AttendanceHandler{
		alloc:      alloc,
		attendance: attendance,
		now:        time.Now,
	}
}

// MarkRequest represents a manual attendance mark by staff.
type MarkRequest struct {
	StudentID string `json:"student_id"`
	SubjectID string `json:"subject_id"`
	Date      string `json:"date,omitempty"` // YYYY-MM-DD, defaults to today
	Status    string `json:"status,omitempty"`
	MarkedBy  string `json:"marked_by"`
}

// MarkResponse reports the marking outcome.
type MarkResponse struct {
	Outcome   string `json:"outcome"`
	StudentID string `json:"student_id"`
	SubjectID string `json:"subject_id"`
	Date      string `json:"date"`
	Status    string `json:"status"`
}

var validStatuses = map[store.AttendanceStatus]bool{
	store.StatusPresent: true,
	store.StatusAbsent:  true,
	store.StatusLate:    true,
	store.StatusExcused: true,
	store.StatusHalfDay: true,
}

// Mark handles POST /api/v1/attendance. Manual marks go through the same
// allocator as face check-ins, so the one-row-per-key rule holds across
// methods.
func (h *AttendanceHandler) Mark(w http.ResponseWriter, r *http.Request) {
	var req MarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.StudentID == "" || req.SubjectID == "" {
		respondError(w, http.StatusBadRequest, "student_id and subject_id are required")
		return
	}
	if req.MarkedBy == "" {
		respondError(w, http.StatusBadRequest, "marked_by is required")
		return
	}

	status := store.StatusPresent
	if req.Status != "" {
		status = store.AttendanceStatus(req.Status)
		if !validStatuses[status] {
			respondError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}

	date := h.now()
	if req.Date != "" {
		d, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}

	outcome, err := h.alloc.MarkAttendance(r.Context(), store.AttendanceRecord{
		StudentID: req.StudentID,
		SubjectID: req.SubjectID,
		Date:      date,
		Status:    status,
		Method:    store.MethodManual,
		MarkedBy:  &req.MarkedBy,
	})
	if err != nil {
		log.Printf("attendance: marking %s/%s: %v",
			sanitizeForLog(req.StudentID), sanitizeForLog(req.SubjectID), err)
		respondError(w, http.StatusInternalServerError, "failed to mark attendance")
		return
	}

	httpStatus := http.StatusCreated
	if outcome == allocator.OutcomeAlreadyExists {
		httpStatus = http.StatusOK
	}
	respondJSON(w, httpStatus, MarkResponse{
		Outcome:   string(outcome),
		StudentID: req.StudentID,
		SubjectID: req.SubjectID,
		Date:      store.Day(date).Format("2006-01-02"),
		Status:    string(status),
	})
}

// ListResponse wraps attendance records.
type ListResponse struct {
	Records []store.AttendanceRecord `json:"records"`
	Count   int                      `json:"count"`
}

// List handles GET /api/v1/attendance. Two query shapes are supported:
// subject_id+date for a class register, and student_id+from+to for a
// student's history.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	switch {
	case q.Get("subject_id") != "":
		date := h.now()
		if raw := q.Get("date"); raw != "" {
			d, err := time.Parse("2006-01-02", raw)
			if err != nil {
				respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
				return
			}
			date = d
		}
		records, err := h.attendance.ListBySubjectDate(r.Context(), q.Get("subject_id"), date)
		if err != nil {
			log.Printf("attendance: listing for subject: %v", err)
			respondError(w, http.StatusInternalServerError, "failed to list attendance")
			return
		}
		respondJSON(w, http.StatusOK, ListResponse{Records: records, Count: len(records)})

	case q.Get("student_id") != "":
		from, err := time.Parse("2006-01-02", q.Get("from"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		to, err := time.Parse("2006-01-02", q.Get("to"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		records, err := h.attendance.ListByStudent(r.Context(), q.Get("student_id"), from, to)
		if err != nil {
			log.Printf("attendance: listing for student: %v", err)
			respondError(w, http.StatusInternalServerError, "failed to list attendance")
			return
		}
		respondJSON(w, http.StatusOK, ListResponse{Records: records, Count: len(records)})

	default:
		respondError(w, http.StatusBadRequest, "subject_id or student_id is required")
	}
}
