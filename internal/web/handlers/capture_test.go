package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/classtrack/attendance-engine/internal/extractor"
	"github.com/classtrack/attendance-engine/internal/recognition"
	"github.com/classtrack/attendance-engine/internal/store"
)

func TestCaptureSubmit_MatchMarksAttendance(t *testing.T) {
	f := newHandlerFixture()
	f.enrollIdentity(t, "s1", 0)
	f.enrollIdentity(t, "s2", 1)
	f.extractor.detections = []recognition.Detection{centeredDetection(0.95)}
	f.extractor.embedding = blendVec(0, 0.85)

	rec := doJSON(t, f.captureHandler().Submit, http.MethodPost, "/api/v1/captures", CaptureRequest{
		Image:     testFrame(t),
		SubjectID: "MATH101",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp CaptureResponse
	decodeResponse(t, rec, &resp)
	if !resp.Matched {
		t.Fatalf("expected a match, got %+v", resp)
	}
	if resp.StudentID != "s1" {
		t.Errorf("expected s1, got %s", resp.StudentID)
	}
	if resp.Quality != "excellent" {
		t.Errorf("expected excellent quality at 0.85, got %s", resp.Quality)
	}
	if resp.Attendance == nil || resp.Attendance.Outcome != "created" {
		t.Fatalf("expected a created attendance outcome, got %+v", resp.Attendance)
	}
	if resp.Attendance.Status != "present" {
		t.Errorf("expected present, got %s", resp.Attendance.Status)
	}
	if f.attendance.Count() != 1 {
		t.Errorf("expected one stored record, got %d", f.attendance.Count())
	}
}

func TestCaptureSubmit_DuplicateIsAlreadyExists(t *testing.T) {
	f := newHandlerFixture()
	f.enrollIdentity(t, "s1", 0)
	f.extractor.detections = []recognition.Detection{centeredDetection(0.95)}
	f.extractor.embedding = unitVec(0)

	submit := f.captureHandler().Submit
	body := CaptureRequest{Image: testFrame(t), SubjectID: "MATH101"}

	first := doJSON(t, submit, http.MethodPost, "/api/v1/captures", body)
	if first.Code != http.StatusOK {
		t.Fatalf("first submit failed: %d %s", first.Code, first.Body.String())
	}

	second := doJSON(t, submit, http.MethodPost, "/api/v1/captures", body)
	if second.Code != http.StatusOK {
		t.Fatalf("second submit failed: %d %s", second.Code, second.Body.String())
	}
	var resp CaptureResponse
	decodeResponse(t, second, &resp)
	if resp.Attendance == nil || resp.Attendance.Outcome != "already_exists" {
		t.Errorf("expected already_exists, got %+v", resp.Attendance)
	}
	if f.attendance.Count() != 1 {
		t.Errorf("expected one stored record, got %d", f.attendance.Count())
	}
}

func TestCaptureSubmit_BelowThresholdNoRecord(t *testing.T) {
	f := newHandlerFixture()
	f.enrollIdentity(t, "s1", 0)
	f.extractor.detections = []recognition.Detection{centeredDetection(0.95)}
	f.extractor.embedding = blendVec(0, 0.55) // above live, below final

	rec := doJSON(t, f.captureHandler().Submit, http.MethodPost, "/api/v1/captures", CaptureRequest{
		Image:     testFrame(t),
		SubjectID: "MATH101",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp CaptureResponse
	decodeResponse(t, rec, &resp)
	if resp.Matched {
		t.Fatal("similarity below the final threshold must not match")
	}
	if resp.Reason != "below_threshold" {
		t.Errorf("expected below_threshold, got %s", resp.Reason)
	}
	if f.attendance.Count() != 0 {
		t.Errorf("no-match must not persist anything, got %d records", f.attendance.Count())
	}
}

func TestCaptureSubmit_GateRejection(t *testing.T) {
	f := newHandlerFixture()
	f.enrollIdentity(t, "s1", 0)
	// Confident but tiny face in the corner.
	f.extractor.detections = []recognition.Detection{{
		BBox:       [4]float64{0, 0, 30, 30},
		Confidence: 0.95,
	}}

	rec := doJSON(t, f.captureHandler().Submit, http.MethodPost, "/api/v1/captures", CaptureRequest{
		Image:     testFrame(t),
		SubjectID: "MATH101",
	})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var resp CaptureResponse
	decodeResponse(t, rec, &resp)
	if resp.Gate.Accepted {
		t.Error("gate should have rejected the frame")
	}
	if len(resp.Gate.Reasons) == 0 {
		t.Error("rejection must carry reasons")
	}
	if f.attendance.Count() != 0 {
		t.Errorf("rejected frame must not persist anything, got %d records", f.attendance.Count())
	}
}

func TestCaptureSubmit_NoFace(t *testing.T) {
	f := newHandlerFixture()
	rec := doJSON(t, f.captureHandler().Submit, http.MethodPost, "/api/v1/captures", CaptureRequest{
		Image:     testFrame(t),
		SubjectID: "MATH101",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for no face, got %d", rec.Code)
	}
}

func TestCaptureSubmit_ModelUnavailable(t *testing.T) {
	f := newHandlerFixture()
	f.extractor.detectErr = extractor.ErrModelUnavailable

	rec := doJSON(t, f.captureHandler().Submit, http.MethodPost, "/api/v1/captures", CaptureRequest{
		Image:     testFrame(t),
		SubjectID: "MATH101",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestCaptureSubmit_Validation(t *testing.T) {
	f := newHandlerFixture()
	submit := f.captureHandler().Submit

	rec := doJSON(t, submit, http.MethodPost, "/api/v1/captures", CaptureRequest{Image: testFrame(t)})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing subject_id: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, submit, http.MethodPost, "/api/v1/captures", CaptureRequest{
		SubjectID: "MATH101",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing image: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, submit, http.MethodPost, "/api/v1/captures", CaptureRequest{
		Image: "!!!not-base64!!!", SubjectID: "MATH101",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid base64: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, submit, http.MethodPost, "/api/v1/captures", CaptureRequest{
		Image: testFrame(t), SubjectID: "MATH101", CapturedAt: "yesterday",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid captured_at: expected 400, got %d", rec.Code)
	}
}

func TestCaptureFeedback_NeverPersists(t *testing.T) {
	f := newHandlerFixture()
	f.enrollIdentity(t, "s1", 0)
	f.extractor.detections = []recognition.Detection{centeredDetection(0.95)}
	f.extractor.embedding = blendVec(0, 0.55) // live threshold passes, final would not

	rec := doJSON(t, f.captureHandler().Feedback, http.MethodPost, "/api/v1/captures/feedback", FeedbackRequest{
		Image: testFrame(t),
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp FeedbackResponse
	decodeResponse(t, rec, &resp)
	if !resp.Accepted {
		t.Fatal("frame should pass the gate")
	}
	if !resp.Matched {
		t.Error("0.55 should match under the live threshold")
	}
	if f.attendance.Count() != 0 {
		t.Errorf("feedback must never persist, got %d records", f.attendance.Count())
	}
}

func TestCaptureFeedback_GateReasons(t *testing.T) {
	f := newHandlerFixture()
	f.extractor.detections = []recognition.Detection{{
		BBox:       [4]float64{0, 0, 30, 30},
		Confidence: 0.3,
	}}

	rec := doJSON(t, f.captureHandler().Feedback, http.MethodPost, "/api/v1/captures/feedback", FeedbackRequest{
		Image: testFrame(t),
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("feedback rejection is still 200, got %d", rec.Code)
	}
	var resp FeedbackResponse
	decodeResponse(t, rec, &resp)
	if resp.Accepted {
		t.Error("frame should fail the gate")
	}
	if len(resp.Reasons) < 2 {
		t.Errorf("expected multiple reasons for a tiny low-confidence face, got %v", resp.Reasons)
	}
}

func TestCaptureSubmit_IndexFallbackToStore(t *testing.T) {
	f := newHandlerFixture()
	// Enroll only in the store, leaving the index empty.
	if err := f.identities.Enroll(context.Background(), store.EnrolledIdentity{
		StudentID: "s1", Embedding: unitVec(0), Dim: 8,
	}); err != nil {
		t.Fatalf("failed to enroll: %v", err)
	}
	f.extractor.detections = []recognition.Detection{centeredDetection(0.95)}
	f.extractor.embedding = unitVec(0)

	rec := doJSON(t, f.captureHandler().Submit, http.MethodPost, "/api/v1/captures", CaptureRequest{
		Image:     testFrame(t),
		SubjectID: "MATH101",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp CaptureResponse
	decodeResponse(t, rec, &resp)
	if !resp.Matched || resp.StudentID != "s1" {
		t.Errorf("expected a database-backed match for s1, got %+v", resp)
	}
}
