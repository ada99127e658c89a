package web

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/web/handlers"
	"github.com/kozaktomas/rollcall/internal/web/middleware"
)

// requestTimeout bounds the synchronous API calls; streams and uploads are exempt.
const requestTimeout = 2 * time.Minute

func (s *Server) setupRoutes() {
	jobsHandler := handlers.NewJobsHandler(s.jobs, middleware.OriginChecker(s.config.Web.AllowedOrigins))
	uploadHandler := handlers.NewUploadHandler(s.config, s.jobs)
	studentsHandler := handlers.NewStudentsHandler(s.config, s.attendance)
	attendanceHandler := handlers.NewAttendanceHandler(s.attendance)
	configHandler := handlers.NewConfigHandler(s.config)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.config.Web.APIToken))

		// Long-lived requests
		r.Post("/videos", uploadHandler.Upload)
		r.Get("/jobs/{jobId}/events", jobsHandler.Events)
		r.Get("/jobs/{jobId}/ws", jobsHandler.Websocket)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			// Jobs
			r.Get("/jobs", jobsHandler.List)
			r.Get("/jobs/{jobId}", jobsHandler.Get)
			r.Delete("/jobs/{jobId}", jobsHandler.Cancel)

			// Students
			r.Post("/enroll", studentsHandler.Enroll)
			r.Get("/students", studentsHandler.List)

			// Attendance
			r.Get("/attendance/roster", attendanceHandler.Roster)
			r.Post("/attendance/override", attendanceHandler.Override)
			r.Post("/admin/alumni-cleanup", attendanceHandler.Cleanup)
			r.Get("/unknown-faces", attendanceHandler.UnknownFaces)

			// Config
			r.Get("/config", configHandler.Get)
		})
	})

	// Archived unknown face crops; image tags pass the token as a query parameter.
	faces := http.StripPrefix(constants.UnknownFacesURLPrefix, http.FileServer(noListing{http.Dir(s.config.UnknownFacesDir())}))
	s.router.With(middleware.RequireToken(s.config.Web.APIToken)).Get(constants.UnknownFacesURLPrefix+"*", faces.ServeHTTP)
}

// noListing hides directory indexes of a file system.
type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
