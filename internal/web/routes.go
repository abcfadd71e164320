package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/classtrack/attendance-engine/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	gate, scorer := s.newRecognition()

	captureHandler := handlers.NewCaptureHandler(
		s.config, s.deps.Extractor, gate, scorer,
		s.deps.Index, s.deps.Identities, s.deps.Schedule, s.deps.Allocator)
	identityHandler := handlers.NewIdentityHandler(
		s.config, s.deps.Extractor, gate, s.deps.Identities, s.deps.Index)
	attendanceHandler := handlers.NewAttendanceHandler(s.deps.Allocator, s.deps.Attendance)
	sequenceHandler := handlers.NewSequenceHandler(s.deps.Allocator)
	reconcileHandler := handlers.NewReconcileHandler(s.deps.Reconciler, s.deps.Scheduler)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/captures", captureHandler.Submit)
		r.Post("/captures/feedback", captureHandler.Feedback)

		r.Post("/identities", identityHandler.Enroll)

		r.Post("/attendance", attendanceHandler.Mark)
		r.Get("/attendance", attendanceHandler.List)

		r.Post("/sequence", sequenceHandler.Allocate)

		r.Post("/reconciliation/run", reconcileHandler.Run)
		r.Get("/reconciliation/status", reconcileHandler.Status)
	})
}
